package nfe

import (
	"errors"
	"fmt"
	"strings"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// MaxItems límite de ítems (det) por NF-e.
const MaxItems = 990

// ValidateDraft revisa completitud y formato del borrador antes de armar el XML.
// Devuelve todos los problemas encontrados unidos con errors.Join; cada uno es un *ValidationError.
func ValidateDraft(d InvoiceDraft) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// ── Identificación ──
	switch d.Environment {
	case EnvironmentProduction, EnvironmentHomologation:
	default:
		add(InvalidField("environment", "ambiente desconocido %q", d.Environment))
	}
	if d.Series < 1 || d.Series > 999 {
		add(InvalidField("series", "la serie debe estar entre 1 y 999, se recibió %d", d.Series))
	}
	if d.Number < 1 || d.Number > 999999999 {
		add(InvalidField("number", "el número debe estar entre 1 y 999999999, se recibió %d", d.Number))
	}
	if strings.TrimSpace(d.OperationNature) == "" {
		add(MissingField("operation_nature"))
	}
	if d.OperationType != "" && d.OperationType != pkgnfe.OperationInbound && d.OperationType != pkgnfe.OperationOutbound {
		add(InvalidField("operation_type", "tpNF inválido %q", d.OperationType))
	}
	if d.Purpose != "" && !pkgnfe.ValidPurposes[d.Purpose] {
		add(InvalidField("purpose", "finNFe inválido %q", d.Purpose))
	}
	if d.PresenceIndicator != "" && !pkgnfe.ValidPresenceIndicators[d.PresenceIndicator] {
		add(InvalidField("presence_indicator", "indPres inválido %q", d.PresenceIndicator))
	}

	// ── Emisor ──
	e := d.Emitter
	if e.CNPJ == "" {
		add(MissingField("emitter.cnpj"))
	} else if err := pkgnfe.ValidateCNPJ(e.CNPJ); err != nil {
		add(InvalidAccessKeyInput("emitter.cnpj", err))
	}
	if strings.TrimSpace(e.Name) == "" {
		add(MissingField("emitter.name"))
	}
	if strings.TrimSpace(e.IE) == "" {
		add(MissingField("emitter.ie"))
	}
	if e.Regime == RegimeUnknown {
		add(MissingField("emitter.regime"))
	}
	errs = append(errs, validateAddress("emitter.address", e.Address, false)...)

	// ── Destinatario ──
	r := d.Recipient
	docs := 0
	for _, v := range []string{r.CNPJ, r.CPF, r.ForeignID} {
		if v != "" {
			docs++
		}
	}
	switch {
	case docs == 0:
		add(MissingField("recipient.document"))
	case docs > 1:
		add(InvalidField("recipient.document", "informe sólo uno entre CNPJ, CPF o identificación extranjera"))
	case r.CNPJ != "":
		if err := pkgnfe.ValidateCNPJ(r.CNPJ); err != nil {
			add(InvalidField("recipient.cnpj", "%v", err))
		}
	case r.CPF != "":
		if err := pkgnfe.ValidateCPF(r.CPF); err != nil {
			add(InvalidField("recipient.cpf", "%v", err))
		}
	}
	if r.ForeignID != "" && !r.IsForeign() {
		add(InvalidField("recipient.address.uf", "destinatario extranjero debe usar UF %q", pkgnfe.ForeignUF))
	}
	if strings.TrimSpace(r.Name) == "" {
		add(MissingField("recipient.name"))
	}
	switch r.IEIndicator {
	case "", pkgnfe.RecipientIEExempt, pkgnfe.RecipientIENone:
	case pkgnfe.RecipientIEContributor:
		if strings.TrimSpace(r.IE) == "" {
			add(MissingField("recipient.ie"))
		}
	default:
		add(InvalidField("recipient.ie_indicator", "indIEDest inválido %q", r.IEIndicator))
	}
	errs = append(errs, validateAddress("recipient.address", r.Address, r.IsForeign())...)

	// ── Ítems ──
	if len(d.Items) == 0 {
		add(MissingField("items"))
	}
	if len(d.Items) > MaxItems {
		add(InvalidField("items", "máximo %d ítems por NF-e, se recibieron %d", MaxItems, len(d.Items)))
	}
	for i, it := range d.Items {
		errs = append(errs, validateItem(i, it)...)
	}

	// ── Pago y transporte ──
	for i, m := range d.Payment.Methods {
		if !pkgnfe.ValidPaymentTypes[m.Type] {
			add(InvalidField(indexed("payment.methods", i, "type"), "tPag inválido %q", m.Type))
		}
		if m.Amount.IsNegative() {
			add(InvalidField(indexed("payment.methods", i, "amount"), "valor negativo"))
		}
		if m.Indicator != "" && m.Indicator != "0" && m.Indicator != "1" {
			add(InvalidField(indexed("payment.methods", i, "indicator"), "indPag inválido %q", m.Indicator))
		}
	}
	if d.Transport.Mode != "" && !pkgnfe.ValidFreightModes[d.Transport.Mode] {
		add(InvalidField("transport.mode", "modFrete inválido %q", d.Transport.Mode))
	}
	if c := d.Transport.Carrier; c != nil {
		if c.CNPJ != "" && c.CPF != "" {
			add(InvalidField("transport.carrier", "informe CNPJ o CPF, no ambos"))
		}
		if c.UF != "" && !pkgnfe.ValidUF(c.UF) {
			add(InvalidField("transport.carrier.uf", "UF desconocida %q", c.UF))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateAddress(prefix string, a Address, foreign bool) []error {
	var errs []error
	if strings.TrimSpace(a.Street) == "" {
		errs = append(errs, MissingField(prefix+".street"))
	}
	if strings.TrimSpace(a.Number) == "" {
		errs = append(errs, MissingField(prefix+".number"))
	}
	if strings.TrimSpace(a.District) == "" {
		errs = append(errs, MissingField(prefix+".district"))
	}
	if strings.TrimSpace(a.CityName) == "" {
		errs = append(errs, MissingField(prefix+".city_name"))
	}
	if foreign {
		return errs
	}
	if !pkgnfe.ValidUF(a.UF) {
		errs = append(errs, InvalidField(prefix+".uf", "UF desconocida %q", a.UF))
	}
	if !pkgnfe.IsDigits(a.CityCode, 7) {
		errs = append(errs, InvalidField(prefix+".city_code", "código IBGE del municipio debe tener 7 dígitos"))
	}
	if a.ZipCode != "" && len(pkgnfe.OnlyDigits(a.ZipCode)) != 8 {
		errs = append(errs, InvalidField(prefix+".zip_code", "CEP debe tener 8 dígitos"))
	}
	return errs
}

func validateItem(i int, it LineItem) []error {
	var errs []error
	f := func(name string) string { return itemField(i, name) }

	if strings.TrimSpace(it.Code) == "" {
		errs = append(errs, MissingField(f("code")))
	}
	if strings.TrimSpace(it.Description) == "" {
		errs = append(errs, MissingField(f("description")))
	}
	if !pkgnfe.IsDigits(it.NCM, 8) {
		errs = append(errs, InvalidField(f("ncm"), "NCM debe tener 8 dígitos"))
	}
	if !pkgnfe.IsDigits(it.CFOP, 4) {
		errs = append(errs, InvalidField(f("cfop"), "CFOP debe tener 4 dígitos"))
	}
	if it.CEST != "" && !pkgnfe.IsDigits(it.CEST, 7) {
		errs = append(errs, InvalidField(f("cest"), "CEST debe tener 7 dígitos"))
	}
	if strings.TrimSpace(it.Unit) == "" {
		errs = append(errs, MissingField(f("unit")))
	}
	if !it.Quantity.IsPositive() {
		errs = append(errs, InvalidField(f("quantity"), "la cantidad debe ser mayor que cero"))
	}
	if it.UnitValue.IsNegative() {
		errs = append(errs, InvalidField(f("unit_value"), "valor unitario negativo"))
	}
	for _, v := range []struct {
		name string
		neg  bool
	}{
		{"freight", it.Freight.IsNegative()},
		{"insurance", it.Insurance.IsNegative()},
		{"discount", it.Discount.IsNegative()},
		{"other_expenses", it.OtherExpenses.IsNegative()},
	} {
		if v.neg {
			errs = append(errs, InvalidField(f(v.name), "valor negativo"))
		}
	}
	if it.Origin < 0 || it.Origin > 8 {
		errs = append(errs, InvalidField(f("origin"), "origen fuera de 0..8: %d", it.Origin))
	}
	if it.TotalValue.Valid && it.TotalValue.Decimal.Sub(it.GrossValue()).Abs().GreaterThan(RoundingTolerance) {
		errs = append(errs, InvalidField(f("total_value"), "valor total %s difiere de cantidad x valor unitario (%s)",
			it.TotalValue.Decimal.StringFixed(2), it.GrossValue().StringFixed(2)))
	}
	return errs
}

func indexed(prefix string, i int, name string) string {
	return fmt.Sprintf("%s[%d].%s", prefix, i, name)
}
