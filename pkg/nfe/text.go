package nfe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SanitizeText prepara un texto libre para los campos de la NF-e (xProd, xNome, xJust...):
// normaliza a NFC, reemplaza caracteres de control por espacio, colapsa espacios y recorta.
// El schema rechaza espacios al inicio/fin y saltos de línea.
func SanitizeText(s string) string {
	t := transform.Chain(
		norm.NFC,
		runes.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return ' '
			}
			return r
		}),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(out), " ")
}

// StripAccents elimina diacríticos ("Cancelação" -> "Cancelacao"). Algunas SEFAZ y
// sistemas legados del destinatario sólo procesan ASCII.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// TruncateRunes corta s a n caracteres (no bytes).
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
