package nfe

import "fmt"

// pesos módulo 11 del CNPJ, de izquierda a derecha, para el primer y segundo DV.
var (
	cnpjWeights1 = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ valida longitud y los dos dígitos verificadores del CNPJ.
// Acepta el número con o sin máscara ("12.345.678/0001-95" o "12345678000195").
func ValidateCNPJ(cnpj string) error {
	d := OnlyDigits(cnpj)
	if len(d) != 14 {
		return fmt.Errorf("nfe: CNPJ debe tener 14 dígitos, se encontraron %d", len(d))
	}
	if repeated(d) {
		return fmt.Errorf("nfe: CNPJ inválido %q", cnpj)
	}
	dv1 := mod11DV(d[:12], cnpjWeights1[:])
	dv2 := mod11DV(d[:13], cnpjWeights2[:])
	if d[12] != dv1 || d[13] != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CNPJ inválidos: esperado %c%c, recibido %s", dv1, dv2, d[12:])
	}
	return nil
}

// ValidateCPF valida longitud y los dos dígitos verificadores del CPF.
func ValidateCPF(cpf string) error {
	d := OnlyDigits(cpf)
	if len(d) != 11 {
		return fmt.Errorf("nfe: CPF debe tener 11 dígitos, se encontraron %d", len(d))
	}
	if repeated(d) {
		return fmt.Errorf("nfe: CPF inválido %q", cpf)
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	dv1 := mod11DV(d[:9], w1)
	dv2 := mod11DV(d[:10], w2)
	if d[9] != dv1 || d[10] != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CPF inválidos: esperado %c%c, recibido %s", dv1, dv2, d[9:])
	}
	return nil
}

// mod11DV resto 0 o 1 => '0', si no 11 - resto.
func mod11DV(digits string, weights []int) byte {
	var sum int
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + (11 - r))
}

// repeated "00000000000000", "11111111111"... pasan el DV pero la Receita los rechaza.
func repeated(d string) bool {
	for i := 1; i < len(d); i++ {
		if d[i] != d[0] {
			return false
		}
	}
	return true
}
