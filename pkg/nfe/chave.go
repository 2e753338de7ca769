package nfe

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// AccessKeyLength longitud de la clave de acceso (chave de acesso) con dígito verificador.
const AccessKeyLength = 44

// ErrInvalidAccessKey clave de acceso mal formada o con DV incorrecto.
var ErrInvalidAccessKey = errors.New("nfe: clave de acceso inválida")

// AccessKeyParts componentes de la clave de acceso, en el orden en que se concatenan.
type AccessKeyParts struct {
	UFCode       string // cUF, 2 dígitos
	YearMonth    string // AAMM de la emisión
	CNPJ         string // CNPJ del emisor, 14 dígitos (se aceptan máscaras)
	Model        string // mod, 2 dígitos
	Series       int    // serie, 0..999
	Number       int    // nNF, 1..999999999
	EmissionType string // tpEmis, 1 dígito
	NumericCode  string // cNF, 8 dígitos
}

// BuildAccessKey concatena las partes (43 dígitos) y agrega el dígito verificador módulo 11.
func BuildAccessKey(p AccessKeyParts) (string, error) {
	cnpj := OnlyDigits(p.CNPJ)
	switch {
	case !isDigits(p.UFCode, 2):
		return "", fmt.Errorf("nfe: cUF debe tener 2 dígitos, recibido %q", p.UFCode)
	case !isDigits(p.YearMonth, 4):
		return "", fmt.Errorf("nfe: AAMM debe tener 4 dígitos, recibido %q", p.YearMonth)
	case len(cnpj) != 14:
		return "", fmt.Errorf("nfe: CNPJ debe tener 14 dígitos, se encontraron %d", len(cnpj))
	case !isDigits(p.Model, 2):
		return "", fmt.Errorf("nfe: modelo debe tener 2 dígitos, recibido %q", p.Model)
	case p.Series < 0 || p.Series > 999:
		return "", fmt.Errorf("nfe: serie fuera de rango: %d", p.Series)
	case p.Number < 1 || p.Number > 999999999:
		return "", fmt.Errorf("nfe: número fuera de rango: %d", p.Number)
	case !isDigits(p.EmissionType, 1):
		return "", fmt.Errorf("nfe: tpEmis debe tener 1 dígito, recibido %q", p.EmissionType)
	case !isDigits(p.NumericCode, 8):
		return "", fmt.Errorf("nfe: cNF debe tener 8 dígitos, recibido %q", p.NumericCode)
	}

	prefix := p.UFCode + p.YearMonth + cnpj + p.Model +
		fmt.Sprintf("%03d%09d", p.Series, p.Number) + p.EmissionType + p.NumericCode
	dv, err := ComputeCheckDigit(prefix)
	if err != nil {
		return "", err
	}
	return prefix + string(dv), nil
}

// ComputeCheckDigit calcula el dígito verificador (cDV) sobre los 43 dígitos de la clave.
// Pesos 2..9 aplicados de derecha a izquierda; resto 0 o 1 => DV 0, si no 11 - resto.
func ComputeCheckDigit(prefix string) (byte, error) {
	if !isDigits(prefix, AccessKeyLength-1) {
		return 0, fmt.Errorf("nfe: se requieren %d dígitos para el DV, recibido %q", AccessKeyLength-1, prefix)
	}
	var sum int
	weight := 2
	for i := len(prefix) - 1; i >= 0; i-- {
		sum += int(prefix[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	remainder := sum % 11
	if remainder == 0 || remainder == 1 {
		return '0', nil
	}
	return byte('0' + (11 - remainder)), nil
}

// ValidateAccessKey valida longitud, contenido numérico y dígito verificador.
func ValidateAccessKey(key string) error {
	if !isDigits(key, AccessKeyLength) {
		return fmt.Errorf("%w: se esperaban %d dígitos", ErrInvalidAccessKey, AccessKeyLength)
	}
	expected, err := ComputeCheckDigit(key[:AccessKeyLength-1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}
	if key[AccessKeyLength-1] != expected {
		return fmt.Errorf("%w: DV esperado %c, recibido %c", ErrInvalidAccessKey, expected, key[AccessKeyLength-1])
	}
	return nil
}

// ParseAccessKey descompone una clave válida en sus partes.
func ParseAccessKey(key string) (AccessKeyParts, error) {
	if err := ValidateAccessKey(key); err != nil {
		return AccessKeyParts{}, err
	}
	series, _ := strconv.Atoi(key[22:25])
	number, _ := strconv.Atoi(key[25:34])
	return AccessKeyParts{
		UFCode:       key[0:2],
		YearMonth:    key[2:6],
		CNPJ:         key[6:20],
		Model:        key[20:22],
		Series:       series,
		Number:       number,
		EmissionType: key[34:35],
		NumericCode:  key[35:43],
	}, nil
}

// OnlyDigits elimina todo lo que no sea dígito (puntos, barras, guiones de CNPJ/CPF/CEP).
func OnlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsDigits indica si s tiene exactamente n dígitos ASCII.
func IsDigits(s string, n int) bool { return isDigits(s, n) }
