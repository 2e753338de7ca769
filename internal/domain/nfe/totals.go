package nfe

import (
	"github.com/shopspring/decimal"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Totals grupo ICMSTot más el vuelto (vTroco) del grupo pag.
type Totals struct {
	Products  decimal.Decimal // vProd
	Freight   decimal.Decimal // vFrete
	Insurance decimal.Decimal // vSeg
	Discount  decimal.Decimal // vDesc
	Other     decimal.Decimal // vOutro
	ICMSBase  decimal.Decimal // vBC
	ICMS      decimal.Decimal // vICMS
	IPI       decimal.Decimal // vIPI
	PIS       decimal.Decimal // vPIS
	COFINS    decimal.Decimal // vCOFINS
	Invoice   decimal.Decimal // vNF
	Paid      decimal.Decimal // suma de detPag/vPag
	Change    decimal.Decimal // vTroco

	// Clamped indica que vNF era negativo y se llevó a cero (sólo homologación).
	Clamped bool
}

// ComputeTotals suma los ítems ya resueltos por el TaxRuleResolver.
//
//	vNF = vProd - vDesc + vFrete + vSeg + vOutro + vIPI
//
// Un vNF negativo es InvalidTotals en producción; en homologación se lleva a cero
// y se marca Clamped.
func ComputeTotals(draft InvoiceDraft) (Totals, error) {
	var t Totals
	for i, it := range draft.Items {
		if it.Taxes == nil {
			return Totals{}, InvalidTotals(itemField(i, "taxes"), "ítem sin tributos resueltos")
		}
		t.Products = t.Products.Add(it.GrossValue())
		t.Freight = t.Freight.Add(it.Freight)
		t.Insurance = t.Insurance.Add(it.Insurance)
		t.Discount = t.Discount.Add(it.Discount)
		t.Other = t.Other.Add(it.OtherExpenses)

		icms := it.Taxes.ICMS
		if icms.HasTriple() {
			t.ICMSBase = t.ICMSBase.Add(icms.Base)
			t.ICMS = t.ICMS.Add(icms.Value)
		}
		t.PIS = t.PIS.Add(it.Taxes.PIS.Value)
		t.COFINS = t.COFINS.Add(it.Taxes.COFINS.Value)
		if it.Taxes.IPI != nil {
			t.IPI = t.IPI.Add(it.Taxes.IPI.Value)
		}
	}

	t.Invoice = t.Products.
		Sub(t.Discount).
		Add(t.Freight).
		Add(t.Insurance).
		Add(t.Other).
		Add(t.IPI).
		Round(2)

	if t.Invoice.IsNegative() {
		if draft.Environment.IsProduction() {
			return Totals{}, InvalidTotals("vNF", "total de la nota negativo (%s)", t.Invoice.StringFixed(2))
		}
		t.Invoice = decimal.Zero
		t.Clamped = true
	}

	for _, m := range draft.Payment.Methods {
		t.Paid = t.Paid.Add(m.Amount)
	}
	if len(draft.Payment.Methods) > 0 && !isNoPayment(draft.Payment) {
		if t.Paid.LessThan(t.Invoice) {
			return Totals{}, InvalidTotals("payment", "pagos (%s) no cubren el total (%s)",
				t.Paid.StringFixed(2), t.Invoice.StringFixed(2))
		}
		t.Change = t.Paid.Sub(t.Invoice).Round(2)
	}
	return t, nil
}

// isNoPayment tPag 90 ("sem pagamento") no exige cubrir el total.
func isNoPayment(p Payment) bool {
	return len(p.Methods) == 1 && p.Methods[0].Type == pkgnfe.PaymentNone
}
