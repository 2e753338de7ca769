package nfe

import "github.com/shopspring/decimal"

// ufCodes código IBGE de cada unidad federativa (cUF).
var ufCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29",
	"MG": "31", "ES": "32", "RJ": "33", "SP": "35",
	"PR": "41", "SC": "42", "RS": "43",
	"MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// UFCode devuelve el código IBGE de la UF (ej: "SP" -> "35").
func UFCode(uf string) (string, bool) {
	c, ok := ufCodes[uf]
	return c, ok
}

// UFFromCode devuelve la sigla para un código IBGE (ej: "35" -> "SP").
func UFFromCode(code string) (string, bool) {
	for uf, c := range ufCodes {
		if c == code {
			return uf, true
		}
	}
	return "", false
}

// ValidUF indica si la sigla es una UF brasileña.
func ValidUF(uf string) bool {
	_, ok := ufCodes[uf]
	return ok
}

// =============================================================================
// Alícuotas de ICMS (sugeridas). Valores aproximados; la legislación vigente manda.
// =============================================================================

var internalICMSRates = map[string]string{
	"AC": "17", "AL": "18", "AP": "18", "AM": "18", "BA": "18", "CE": "18", "DF": "18",
	"ES": "17", "GO": "17", "MA": "18", "MT": "17", "MS": "17", "MG": "18", "PA": "17",
	"PB": "18", "PR": "18", "PE": "18", "PI": "18", "RJ": "18", "RN": "18", "RS": "18",
	"RO": "17.5", "RR": "17", "SC": "17", "SP": "18", "SE": "18", "TO": "18",
}

// Sul y Sudeste salvo ES.
var southSoutheast = map[string]bool{
	"MG": true, "PR": true, "RJ": true, "RS": true, "SC": true, "SP": true,
}

// StateICMSRate devuelve la alícuota de ICMS sugerida para la operación origen -> destino.
// Interna: tabla por UF. Interestadual: 7% de Sul/Sudeste hacia N/NE/CO/ES, 12% en los demás casos.
func StateICMSRate(originUF, destUF string) (decimal.Decimal, bool) {
	if originUF == destUF {
		r, ok := internalICMSRates[originUF]
		if !ok {
			return decimal.Zero, false
		}
		return decimal.RequireFromString(r), true
	}
	if !ValidUF(originUF) || !ValidUF(destUF) {
		return decimal.Zero, false
	}
	if southSoutheast[originUF] && !southSoutheast[destUF] {
		return decimal.NewFromInt(7), true
	}
	return decimal.NewFromInt(12), true
}
