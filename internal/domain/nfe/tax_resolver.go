package nfe

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// RoundingTolerance diferencia máxima aceptada entre un valor informado y round(base*alícuota/100, 2).
var RoundingTolerance = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// TaxRuleResolver selecciona CST/CSOSN y calcula base, alícuota y valor de cada tributo.
// Es una función pura del ítem y del régimen; no guarda estado entre llamadas.
type TaxRuleResolver struct {
	stateRates bool
}

// ResolverOption configura el TaxRuleResolver.
type ResolverOption func(*TaxRuleResolver)

// WithStateRates usa la tabla de alícuotas de ICMS por UF cuando el ítem no informa pICMS.
func WithStateRates(enabled bool) ResolverOption {
	return func(r *TaxRuleResolver) { r.stateRates = enabled }
}

// NewTaxRuleResolver crea el resolvedor.
func NewTaxRuleResolver(opts ...ResolverOption) *TaxRuleResolver {
	r := &TaxRuleResolver{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// route origen y destino de la operación, usados sólo por la tabla de alícuotas.
type route struct {
	origin, dest string
}

// Resolve calcula los tributos de un ítem para el régimen del emisor.
func (r *TaxRuleResolver) Resolve(item LineItem, regime Regime) (TaxComputation, error) {
	return r.resolve(item, regime, route{})
}

// ResolveAll devuelve una copia del borrador con TotalValue y Taxes completos en cada ítem.
// El borrador recibido no se modifica.
func (r *TaxRuleResolver) ResolveAll(draft InvoiceDraft) (InvoiceDraft, error) {
	out := draft
	out.Items = make([]LineItem, len(draft.Items))
	rt := route{origin: draft.Emitter.Address.UF, dest: draft.Recipient.Address.UF}

	var errs []error
	for i, it := range draft.Items {
		gross := it.GrossValue()
		if it.TotalValue.Valid && it.TotalValue.Decimal.Sub(gross).Abs().GreaterThan(RoundingTolerance) {
			errs = append(errs, InvalidField(itemField(i, "total_value"),
				"valor total %s difiere de cantidad x valor unitario (%s)",
				it.TotalValue.Decimal.StringFixed(2), gross.StringFixed(2)))
			continue
		}
		it.TotalValue = decimal.NewNullDecimal(gross)

		tc, err := r.resolve(it, draft.Emitter.Regime, rt)
		if err != nil {
			errs = append(errs, prefixItem(i, err))
			continue
		}
		it.Taxes = &tc
		out.Items[i] = it
	}
	if len(errs) > 0 {
		return InvoiceDraft{}, errors.Join(errs...)
	}
	return out, nil
}

func (r *TaxRuleResolver) resolve(item LineItem, regime Regime, rt route) (TaxComputation, error) {
	if regime == RegimeUnknown {
		return TaxComputation{}, InvalidTaxInput("regime", "régimen tributario no informado")
	}
	if item.Origin < 0 || item.Origin > 8 {
		return TaxComputation{}, InvalidTaxInput("origin", "origen de la mercadería fuera de 0..8: %d", item.Origin)
	}

	var (
		tc  TaxComputation
		err error
	)
	if regime.UsesCSOSN() {
		tc.ICMS, err = r.resolveSimples(item)
	} else {
		tc.ICMS, err = r.resolveNormal(item, rt)
	}
	if err != nil {
		return TaxComputation{}, err
	}

	if tc.PIS, err = resolveContribution("pis", item.Tax.PIS, item.GrossValue()); err != nil {
		return TaxComputation{}, err
	}
	if tc.COFINS, err = resolveContribution("cofins", item.Tax.COFINS, item.GrossValue()); err != nil {
		return TaxComputation{}, err
	}
	if item.Tax.IPI != nil {
		ipi, err := resolveIPI(item.Tax.IPI, item.GrossValue())
		if err != nil {
			return TaxComputation{}, err
		}
		tc.IPI = &ipi
	}
	return tc, nil
}

// ── ICMS ──────────────────────────────────────────────────────────────────────

// resolveSimples CSOSN por defecto 102; nunca produce base/alícuota/valor de ICMS.
func (r *TaxRuleResolver) resolveSimples(item LineItem) (ICMSRecord, error) {
	in := item.Tax.ICMS
	if in.CST != "" {
		return ICMSRecord{}, InvalidTaxInput("icms.cst", "el Simples Nacional declara ICMS con CSOSN, no con CST %q", in.CST)
	}
	csosn := in.CSOSN
	if csosn == "" {
		csosn = pkgnfe.CSOSNTributadaSemCredito
	}
	if !pkgnfe.ValidCSOSN[csosn] {
		return ICMSRecord{}, InvalidTaxInput("icms.csosn", "CSOSN fuera de la tabla: %q", csosn)
	}

	rec := ICMSRecord{Origin: item.Origin, CSOSN: csosn}
	if csosn == pkgnfe.CSOSNTributadaComCredito && in.CreditRate.Valid {
		if in.CreditRate.Decimal.IsNegative() {
			return ICMSRecord{}, InvalidTaxInput("icms.credit_rate", "alícuota de crédito negativa")
		}
		rec.CreditRate = in.CreditRate.Decimal
		rec.CreditValue = percentOf(taxableBase(item), in.CreditRate.Decimal)
	}
	return rec, nil
}

// resolveNormal CST por defecto 00 con modBC 3 (valor de la operación).
func (r *TaxRuleResolver) resolveNormal(item LineItem, rt route) (ICMSRecord, error) {
	in := item.Tax.ICMS
	if in.CSOSN != "" {
		return ICMSRecord{}, InvalidTaxInput("icms.csosn", "CSOSN %q sólo aplica al Simples Nacional", in.CSOSN)
	}
	cst := in.CST
	if cst == "" {
		cst = "00"
	}
	if !pkgnfe.ValidICMSCST[cst] {
		return ICMSRecord{}, InvalidTaxInput("icms.cst", "CST de ICMS fuera de la tabla: %q", cst)
	}
	mode := in.BaseMode
	if mode == "" {
		mode = pkgnfe.ICMSBaseOperation
	}
	switch mode {
	case pkgnfe.ICMSBaseMargin, pkgnfe.ICMSBaseTariff, pkgnfe.ICMSBaseMaxPrice, pkgnfe.ICMSBaseOperation:
	default:
		return ICMSRecord{}, InvalidTaxInput("icms.base_mode", "modalidad de base de cálculo inválida: %q", mode)
	}

	rec := ICMSRecord{Origin: item.Origin, CST: cst, BaseMode: mode}
	if pkgnfe.ICMSExemptCST[cst] {
		rec.Base, rec.Rate, rec.Value = decimal.Zero, decimal.Zero, decimal.Zero
		return rec, nil
	}

	base := taxableBase(item)
	if in.Base.Valid {
		base = in.Base.Decimal
	}
	rate, ok := r.icmsRate(in, rt)
	if !ok {
		if cst != "90" {
			return ICMSRecord{}, InvalidTaxInput("icms.rate", "alícuota de ICMS obligatoria para CST %s", cst)
		}
		rate = decimal.Zero
	}
	value, err := reconcile("icms", base, rate, in.Value)
	if err != nil {
		return ICMSRecord{}, err
	}
	rec.Base, rec.Rate, rec.Value = base.Round(2), rate, value
	return rec, nil
}

func (r *TaxRuleResolver) icmsRate(in ICMSInput, rt route) (decimal.Decimal, bool) {
	if in.Rate.Valid {
		return in.Rate.Decimal, true
	}
	if r.stateRates && rt.origin != "" && rt.dest != "" {
		return pkgnfe.StateICMSRate(rt.origin, rt.dest)
	}
	return decimal.Decimal{}, false
}

// ── PIS / COFINS / IPI ────────────────────────────────────────────────────────

// resolveContribution PIS o COFINS. Sin datos del ítem: CST 99 con todo en cero.
// La alícuota nunca se inventa.
func resolveContribution(field string, in *ContributionInput, gross decimal.Decimal) (TaxRecord, error) {
	if in == nil {
		return TaxRecord{Code: pkgnfe.PISCOFINSDefaultCST, Base: decimal.Zero, Rate: decimal.Zero, Value: decimal.Zero}, nil
	}
	cst := in.CST
	if cst == "" {
		cst = pkgnfe.PISCOFINSDefaultCST
	}
	if !pkgnfe.ValidPISCOFINSCST[cst] {
		return TaxRecord{}, InvalidTaxInput(field+".cst", "CST fuera de la tabla: %q", cst)
	}
	rec := TaxRecord{Code: cst, Base: decimal.Zero, Rate: decimal.Zero, Value: decimal.Zero}
	if pkgnfe.PISCOFINSGroup(cst) == "NT" {
		return rec, nil
	}
	if !in.Rate.Valid {
		if in.Base.Valid {
			rec.Base = in.Base.Decimal.Round(2)
		}
		if in.Value.Valid {
			rec.Value = in.Value.Decimal.Round(2)
		}
		return rec, nonNegative(field, rec.Base, rec.Value)
	}

	base := gross
	if in.Base.Valid {
		base = in.Base.Decimal
	}
	value, err := reconcile(field, base, in.Rate.Decimal, in.Value)
	if err != nil {
		return TaxRecord{}, err
	}
	rec.Base, rec.Rate, rec.Value = base.Round(2), in.Rate.Decimal, value
	return rec, nil
}

func resolveIPI(in *IPIInput, gross decimal.Decimal) (IPIRecord, error) {
	if !pkgnfe.ValidIPICST[in.CST] {
		return IPIRecord{}, InvalidTaxInput("ipi.cst", "CST de IPI fuera de la tabla: %q", in.CST)
	}
	enq := in.Enquadramento
	if enq == "" {
		enq = pkgnfe.IPIDefaultEnquadramento
	}
	rec := IPIRecord{
		TaxRecord:     TaxRecord{Code: in.CST, Base: decimal.Zero, Rate: decimal.Zero, Value: decimal.Zero},
		Enquadramento: enq,
	}
	if !pkgnfe.IPITaxedCST[in.CST] {
		return rec, nil
	}
	base := gross
	if in.Base.Valid {
		base = in.Base.Decimal
	}
	rate := decimal.Zero
	if in.Rate.Valid {
		rate = in.Rate.Decimal
	}
	value, err := reconcile("ipi", base, rate, in.Value)
	if err != nil {
		return IPIRecord{}, err
	}
	rec.Base, rec.Rate, rec.Value = base.Round(2), rate, value
	return rec, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// reconcile calcula round(base*alícuota/100, 2) o valida el valor informado contra él.
func reconcile(field string, base, rate decimal.Decimal, informed decimal.NullDecimal) (decimal.Decimal, error) {
	if err := nonNegative(field, base, rate); err != nil {
		return decimal.Zero, err
	}
	expected := percentOf(base, rate)
	if !informed.Valid {
		return expected, nil
	}
	if informed.Decimal.Sub(expected).Abs().GreaterThan(RoundingTolerance) {
		return decimal.Zero, InvalidTaxInput(field+".value",
			"valor %s inconsistente con base %s x alícuota %s%% (esperado %s)",
			informed.Decimal.StringFixed(2), base.StringFixed(2), rate.String(), expected.StringFixed(2))
	}
	return informed.Decimal.Round(2), nil
}

func nonNegative(field string, values ...decimal.Decimal) error {
	for _, v := range values {
		if v.IsNegative() {
			return InvalidTaxInput(field, "valores negativos no permitidos (%s)", v.String())
		}
	}
	return nil
}

func percentOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

// taxableBase valor de la operación: vProd + vFrete + vSeg + vOutro - vDesc.
func taxableBase(item LineItem) decimal.Decimal {
	return item.GrossValue().
		Add(item.Freight).
		Add(item.Insurance).
		Add(item.OtherExpenses).
		Sub(item.Discount).
		Round(2)
}

func itemField(i int, name string) string {
	return fmt.Sprintf("items[%d].%s", i, name)
}

// prefixItem agrega el índice del ítem al campo de un ValidationError.
func prefixItem(i int, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		cp := *ve
		cp.Field = itemField(i, "tax."+ve.Field)
		return &cp
	}
	return fmt.Errorf("items[%d]: %w", i, err)
}
