// Package nfetest expone borradores de NF-e válidos para pruebas de otros paquetes.
package nfetest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// EmitterCNPJ CNPJ del emisor de prueba (coincide con el CN del certificado de testdata).
const EmitterCNPJ = "12345678000195"

// IssuedAt fecha de emisión fija de los borradores de prueba.
var IssuedAt = time.Date(2026, 10, 18, 10, 30, 0, 0, time.FixedZone("BRT", -3*60*60))

// Draft borrador Simples Nacional en homologación, SP -> SP, un ítem 2 x 10.00.
func Draft() nfe.InvoiceDraft {
	return nfe.InvoiceDraft{
		Environment:     nfe.EnvironmentHomologation,
		Series:          1,
		Number:          1,
		OperationNature: "Venda de mercadoria",
		IssuedAt:        IssuedAt,
		Emitter: nfe.Emitter{
			CNPJ:      EmitterCNPJ,
			Name:      "EMPRESA TESTE LTDA",
			TradeName: "Empresa Teste",
			IE:        "111222333444",
			Regime:    nfe.RegimeSimplesNacional,
			Address: nfe.Address{
				Street: "Rua das Flores", Number: "100", District: "Centro",
				CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01001-000",
			},
		},
		Recipient: nfe.Recipient{
			CNPJ:        "11222333000181",
			Name:        "CLIENTE EXEMPLO SA",
			IEIndicator: "9",
			Address: nfe.Address{
				Street: "Av. Paulista", Number: "1000", District: "Bela Vista",
				CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01310-100",
			},
		},
		Items: []nfe.LineItem{Item("P001", 2, "10.00")},
		Payment: nfe.Payment{Methods: []nfe.PaymentMethod{
			{Indicator: "0", Type: "01", Amount: decimal.RequireFromString("20.00")},
		}},
		Transport: nfe.Transport{Mode: "9"},
	}
}

// Item ítem genérico con NCM y CFOP válidos.
func Item(code string, qty int64, unit string) nfe.LineItem {
	return nfe.LineItem{
		Code:        code,
		Description: "Produto " + code,
		NCM:         "61091000",
		CFOP:        "5102",
		Unit:        "UN",
		Quantity:    decimal.NewFromInt(qty),
		UnitValue:   decimal.RequireFromString(unit),
	}
}

// NormalRegime convierte el borrador a lucro presumido con ICMS 18% en cada ítem.
func NormalRegime(d nfe.InvoiceDraft) nfe.InvoiceDraft {
	d.Emitter.Regime = nfe.RegimeLucroPresumido
	items := make([]nfe.LineItem, len(d.Items))
	for i, it := range d.Items {
		it.Tax.ICMS.Rate = decimal.NewNullDecimal(decimal.NewFromInt(18))
		items[i] = it
	}
	d.Items = items
	return d
}
