// Package nfe contiene el modelo de dominio de la emisión de NF-e: borrador de la
// factura, cálculo de tributos, totales, validación y resultados de autorización.
package nfe

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ── Régimen tributario y ambiente ─────────────────────────────────────────────

// Regime régimen tributario del emisor.
type Regime int

const (
	RegimeUnknown Regime = iota
	RegimeSimplesNacional
	RegimeSimplesExcessoSublimite
	RegimeLucroPresumido
	RegimeLucroReal
)

// ParseRegime acepta el nombre o el CRT ("simples_nacional", "1", "lucro_real", "3"...).
// CRT 3 se interpreta como lucro real; para presumido usar el nombre.
func ParseRegime(s string) (Regime, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simples_nacional", "simples", "1", "mei":
		return RegimeSimplesNacional, nil
	case "simples_excesso_sublimite", "2":
		return RegimeSimplesExcessoSublimite, nil
	case "lucro_presumido", "presumido":
		return RegimeLucroPresumido, nil
	case "lucro_real", "real", "3":
		return RegimeLucroReal, nil
	}
	return RegimeUnknown, fmt.Errorf("nfe: régimen tributario desconocido %q", s)
}

// UsesCSOSN indica si el ICMS se declara con CSOSN. El Simples con exceso de sublímite
// declara ICMS con CST.
func (r Regime) UsesCSOSN() bool { return r == RegimeSimplesNacional }

// CRT código de régimen tributario declarado en emit/CRT.
func (r Regime) CRT() string {
	switch r {
	case RegimeSimplesNacional:
		return pkgnfe.CRTSimplesNacional
	case RegimeSimplesExcessoSublimite:
		return pkgnfe.CRTSimplesExcessoSublimite
	default:
		return pkgnfe.CRTRegimeNormal
	}
}

func (r Regime) String() string {
	switch r {
	case RegimeSimplesNacional:
		return "simples_nacional"
	case RegimeSimplesExcessoSublimite:
		return "simples_excesso_sublimite"
	case RegimeLucroPresumido:
		return "lucro_presumido"
	case RegimeLucroReal:
		return "lucro_real"
	default:
		return "desconocido"
	}
}

func (r Regime) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Regime) UnmarshalText(b []byte) error {
	v, err := ParseRegime(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Environment ambiente de la SEFAZ.
type Environment string

const (
	EnvironmentProduction   Environment = "production"
	EnvironmentHomologation Environment = "homologation"
)

// ParseEnvironment acepta "1"/"production"/"producao" y "2"/"homologation"/"homologacao"/"staging".
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "production", "producao", "prod":
		return EnvironmentProduction, nil
	case "2", "homologation", "homologacao", "staging", "test":
		return EnvironmentHomologation, nil
	}
	return "", fmt.Errorf("nfe: ambiente desconocido %q", s)
}

// TpAmb código tpAmb del ambiente.
func (e Environment) TpAmb() string {
	if e == EnvironmentProduction {
		return pkgnfe.EnvironmentProduction
	}
	return pkgnfe.EnvironmentHomologation
}

func (e *Environment) UnmarshalText(b []byte) error {
	v, err := ParseEnvironment(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// IsProduction indica ambiente de producción.
func (e Environment) IsProduction() bool { return e == EnvironmentProduction }

// ── Partes ────────────────────────────────────────────────────────────────────

// Address domicilio fiscal (enderEmit / enderDest).
type Address struct {
	Street      string `json:"street"`
	Number      string `json:"number"`
	Complement  string `json:"complement,omitempty"`
	District    string `json:"district"`
	CityCode    string `json:"city_code"` // código IBGE, 7 dígitos
	CityName    string `json:"city_name"`
	UF          string `json:"uf"`
	ZipCode     string `json:"zip_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"` // BACEN, por defecto 1058
	CountryName string `json:"country_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Emitter emisor de la NF-e.
type Emitter struct {
	CNPJ      string  `json:"cnpj"`
	Name      string  `json:"name"`
	TradeName string  `json:"trade_name,omitempty"`
	IE        string  `json:"ie"`
	Regime    Regime  `json:"regime"`
	Address   Address `json:"address"`
}

// Recipient destinatario: CNPJ, CPF o identificación extranjera.
type Recipient struct {
	CNPJ        string  `json:"cnpj,omitempty"`
	CPF         string  `json:"cpf,omitempty"`
	ForeignID   string  `json:"foreign_id,omitempty"`
	Name        string  `json:"name"`
	IE          string  `json:"ie,omitempty"`
	IEIndicator string  `json:"ie_indicator,omitempty"` // indIEDest: 1, 2 o 9
	Email       string  `json:"email,omitempty"`
	Address     Address `json:"address"`
}

// IsForeign indica destinatario en el exterior.
func (r Recipient) IsForeign() bool { return r.Address.UF == pkgnfe.ForeignUF }

// ── Ítems y tributos ──────────────────────────────────────────────────────────

// ICMSInput datos de ICMS informados por quien llama. Todo es opcional.
type ICMSInput struct {
	CST        string              `json:"cst,omitempty"`
	CSOSN      string              `json:"csosn,omitempty"`
	BaseMode   string              `json:"base_mode,omitempty"`
	Base       decimal.NullDecimal `json:"base"`
	Rate       decimal.NullDecimal `json:"rate"`
	Value      decimal.NullDecimal `json:"value"`
	CreditRate decimal.NullDecimal `json:"credit_rate"` // pCredSN, sólo CSOSN 101
}

// ContributionInput datos de PIS o COFINS informados por quien llama.
type ContributionInput struct {
	CST   string              `json:"cst"`
	Base  decimal.NullDecimal `json:"base"`
	Rate  decimal.NullDecimal `json:"rate"`
	Value decimal.NullDecimal `json:"value"`
}

// IPIInput datos de IPI; su ausencia significa que el ítem no lleva grupo IPI.
type IPIInput struct {
	CST           string              `json:"cst"`
	Enquadramento string              `json:"enquadramento,omitempty"`
	Base          decimal.NullDecimal `json:"base"`
	Rate          decimal.NullDecimal `json:"rate"`
	Value         decimal.NullDecimal `json:"value"`
}

// TaxInput tributos informados para un ítem.
type TaxInput struct {
	ICMS   ICMSInput          `json:"icms"`
	PIS    *ContributionInput `json:"pis,omitempty"`
	COFINS *ContributionInput `json:"cofins,omitempty"`
	IPI    *IPIInput          `json:"ipi,omitempty"`
}

// TaxRecord {código, base, alícuota, valor} de un tributo.
type TaxRecord struct {
	Code  string
	Base  decimal.Decimal
	Rate  decimal.Decimal
	Value decimal.Decimal
}

// ICMSRecord resultado del ICMS: CSOSN (Simples) o CST con base/alícuota/valor.
type ICMSRecord struct {
	Origin      int
	CSOSN       string
	CST         string
	BaseMode    string
	Base        decimal.Decimal
	Rate        decimal.Decimal
	Value       decimal.Decimal
	CreditRate  decimal.Decimal
	CreditValue decimal.Decimal
}

// HasTriple indica si el ICMS lleva base/alícuota/valor (régimen normal).
func (r ICMSRecord) HasTriple() bool { return r.CST != "" }

// IPIRecord resultado del IPI.
type IPIRecord struct {
	TaxRecord
	Enquadramento string
}

// TaxComputation tributos resueltos de un ítem.
type TaxComputation struct {
	ICMS   ICMSRecord
	PIS    TaxRecord
	COFINS TaxRecord
	IPI    *IPIRecord
}

// LineItem ítem de la NF-e.
type LineItem struct {
	Code          string              `json:"code"`
	EAN           string              `json:"ean,omitempty"`
	Description   string              `json:"description"`
	NCM           string              `json:"ncm"`
	CFOP          string              `json:"cfop"`
	CEST          string              `json:"cest,omitempty"`
	Unit          string              `json:"unit"`
	Quantity      decimal.Decimal     `json:"quantity"`
	UnitValue     decimal.Decimal     `json:"unit_value"`
	TotalValue    decimal.NullDecimal `json:"total_value"` // si se informa, debe coincidir con qty*unit
	Freight       decimal.Decimal     `json:"freight"`
	Insurance     decimal.Decimal     `json:"insurance"`
	Discount      decimal.Decimal     `json:"discount"`
	OtherExpenses decimal.Decimal     `json:"other_expenses"`
	Origin        int                 `json:"origin"`
	Tax           TaxInput            `json:"tax"`

	// Taxes lo completa el TaxRuleResolver.
	Taxes *TaxComputation `json:"-"`
}

// GrossValue vProd del ítem: round(qty * unit, 2).
func (li LineItem) GrossValue() decimal.Decimal {
	return li.Quantity.Mul(li.UnitValue).Round(2)
}

// ── Pago, transporte ──────────────────────────────────────────────────────────

// PaymentMethod detPag.
type PaymentMethod struct {
	Indicator string          `json:"indicator,omitempty"` // indPag: 0 contado, 1 a plazo
	Type      string          `json:"type"`                // tPag
	Amount    decimal.Decimal `json:"amount"`
}

// Payment grupo pag.
type Payment struct {
	Methods []PaymentMethod `json:"methods"`
}

// Carrier transportista.
type Carrier struct {
	CNPJ    string `json:"cnpj,omitempty"`
	CPF     string `json:"cpf,omitempty"`
	Name    string `json:"name"`
	IE      string `json:"ie,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	UF      string `json:"uf,omitempty"`
}

// Volume volumen transportado.
type Volume struct {
	Quantity    int             `json:"quantity"`
	Species     string          `json:"species,omitempty"`
	Brand       string          `json:"brand,omitempty"`
	NetWeight   decimal.Decimal `json:"net_weight"`
	GrossWeight decimal.Decimal `json:"gross_weight"`
}

// Transport grupo transp.
type Transport struct {
	Mode    string   `json:"mode,omitempty"` // modFrete, por defecto 9 (sin flete)
	Carrier *Carrier `json:"carrier,omitempty"`
	Volumes []Volume `json:"volumes,omitempty"`
}

// ── Borrador ──────────────────────────────────────────────────────────────────

// InvoiceDraft datos de entrada de una NF-e. Se trata como inmutable una vez entregado
// al DocumentBuilder.
type InvoiceDraft struct {
	Environment       Environment `json:"environment"`
	Series            int         `json:"series"`
	Number            int         `json:"number"`
	OperationNature   string      `json:"operation_nature"`
	OperationType     string      `json:"operation_type,omitempty"` // tpNF, por defecto 1 (salida)
	Purpose           string      `json:"purpose,omitempty"`        // finNFe, por defecto 1
	FinalConsumer     bool        `json:"final_consumer"`
	PresenceIndicator string      `json:"presence_indicator,omitempty"` // indPres, por defecto 1
	IssuedAt          time.Time   `json:"issued_at,omitempty"`
	Emitter           Emitter     `json:"emitter"`
	Recipient         Recipient   `json:"recipient"`
	Items             []LineItem  `json:"items"`
	Payment           Payment     `json:"payment"`
	Transport         Transport   `json:"transport"`
	AdditionalInfo    string      `json:"additional_info,omitempty"`
}

// Destination idDest según UF del emisor y del destinatario.
func (d InvoiceDraft) Destination() string {
	switch {
	case d.Recipient.IsForeign():
		return pkgnfe.DestinationExterior
	case d.Recipient.Address.UF == d.Emitter.Address.UF:
		return pkgnfe.DestinationInternal
	default:
		return pkgnfe.DestinationInterstate
	}
}

// ── Documentos ────────────────────────────────────────────────────────────────

// CanonicalDocument NF-e ensamblada, antes de la firma.
type CanonicalDocument struct {
	AccessKey   string
	ID          string // "NFe" + clave, referenciado por la firma
	NumericCode string
	IssuedAt    time.Time
	Destination string
	Environment Environment
	UF          string
	Totals      Totals
	XML         []byte
}

// SignedDocument NF-e firmada. No se modifica después de creada.
type SignedDocument struct {
	AccessKey      string
	ID             string
	Environment    Environment
	UF             string
	XML            []byte
	DigestValue    string
	SignatureValue string
	Certificate    *x509.Certificate
}

// BatchSubmission lote enviado a la SEFAZ. No lo persiste el núcleo.
type BatchSubmission struct {
	ID          string
	Documents   []SignedDocument
	Synchronous bool
	Environment Environment
	UF          string
}

// CancellationEvent pedido de cancelación de una NF-e autorizada.
type CancellationEvent struct {
	AccessKey     string
	Protocol      string
	Justification string
	Sequence      int
	Environment   Environment
	OccurredAt    time.Time
}
