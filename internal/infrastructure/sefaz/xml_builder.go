package sefaz

import (
	"bytes"
	"crypto/rand"
	"encoding/xml"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

const (
	// VerProc versión del aplicativo emisor informada en ide/verProc.
	VerProc = "nfe-emissor 1.0"

	// Texto obligatorio en dest/xNome en homologación.
	homologationRecipientName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

	dateTimeLayout = "2006-01-02T15:04:05-07:00"
)

// ── Código numérico (cNF) ─────────────────────────────────────────────────────

// SeedSource genera el código numérico de 8 dígitos que compone la clave de acceso.
type SeedSource interface {
	NumericCode(number int) (string, error)
}

// RandomSeed cNF aleatorio con crypto/rand, distinto del nNF.
type RandomSeed struct{}

func (RandomSeed) NumericCode(number int) (string, error) {
	forbidden := fmt.Sprintf("%08d", number%100000000)
	for i := 0; i < 16; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(100000000))
		if err != nil {
			return "", fmt.Errorf("sefaz: generar cNF: %w", err)
		}
		code := fmt.Sprintf("%08d", n.Int64())
		if code != forbidden {
			return code, nil
		}
	}
	return "", fmt.Errorf("sefaz: no se pudo generar un cNF distinto del número")
}

// FixedSeed cNF fijo, para reprocesos y pruebas deterministas.
type FixedSeed string

func (s FixedSeed) NumericCode(int) (string, error) { return string(s), nil }

// ── DocumentBuilder ───────────────────────────────────────────────────────────

// DocumentBuilder arma el XML de la NF-e 4.00 (sin firma) y su clave de acceso.
// Misma entrada + mismo cNF + mismo reloj => mismos bytes.
type DocumentBuilder struct {
	seed  SeedSource
	clock clock.Clock
	log   zerolog.Logger
}

// BuilderOption configura el DocumentBuilder.
type BuilderOption func(*DocumentBuilder)

func WithSeedSource(s SeedSource) BuilderOption { return func(b *DocumentBuilder) { b.seed = s } }
func WithBuilderClock(c clock.Clock) BuilderOption {
	return func(b *DocumentBuilder) { b.clock = c }
}
func WithBuilderLogger(l zerolog.Logger) BuilderOption {
	return func(b *DocumentBuilder) { b.log = l }
}

// NewDocumentBuilder crea el constructor con cNF aleatorio y reloj del sistema.
func NewDocumentBuilder(opts ...BuilderOption) *DocumentBuilder {
	b := &DocumentBuilder{seed: RandomSeed{}, clock: clock.System{}, log: zerolog.Nop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build valida el borrador (con tributos ya resueltos), calcula clave y totales y genera el XML.
func (b *DocumentBuilder) Build(draft nfe.InvoiceDraft) (*nfe.CanonicalDocument, error) {
	if err := nfe.ValidateDraft(draft); err != nil {
		return nil, err
	}
	for i, it := range draft.Items {
		if it.Taxes == nil {
			return nil, nfe.MissingField(fmt.Sprintf("items[%d].taxes", i))
		}
	}

	totals, err := nfe.ComputeTotals(draft)
	if err != nil {
		return nil, err
	}
	if totals.Clamped {
		b.log.Warn().Int("nNF", draft.Number).Msg("vNF negativo ajustado a cero (homologación)")
	}

	issuedAt := draft.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = b.clock.Now()
	}
	// AAMM de la clave y dhEmi en horario de Brasília, sin depender de la zona del host.
	issuedAt = issuedAt.In(brasilia).Truncate(time.Second)

	ufCode, ok := pkgnfe.UFCode(draft.Emitter.Address.UF)
	if !ok {
		return nil, nfe.InvalidAccessKeyInput("emitter.address.uf", fmt.Errorf("UF desconocida %q", draft.Emitter.Address.UF))
	}
	cnf, err := b.seed.NumericCode(draft.Number)
	if err != nil {
		return nil, nfe.InvalidAccessKeyInput("cNF", err)
	}
	if cnf == fmt.Sprintf("%08d", draft.Number%100000000) {
		return nil, nfe.InvalidAccessKeyInput("cNF", fmt.Errorf("el código numérico no puede ser igual al número de la nota"))
	}
	key, err := pkgnfe.BuildAccessKey(pkgnfe.AccessKeyParts{
		UFCode:       ufCode,
		YearMonth:    issuedAt.Format("0601"),
		CNPJ:         draft.Emitter.CNPJ,
		Model:        pkgnfe.ModelNFe,
		Series:       draft.Series,
		Number:       draft.Number,
		EmissionType: pkgnfe.EmissionNormal,
		NumericCode:  cnf,
	})
	if err != nil {
		return nil, nfe.InvalidAccessKeyInput("access_key", err)
	}

	doc := &nfe.CanonicalDocument{
		AccessKey:   key,
		ID:          "NFe" + key,
		NumericCode: cnf,
		IssuedAt:    issuedAt,
		Destination: draft.Destination(),
		Environment: draft.Environment,
		UF:          draft.Emitter.Address.UF,
		Totals:      totals,
	}
	doc.XML, err = b.render(draft, doc, ufCode)
	if err != nil {
		return nil, fmt.Errorf("sefaz: serializar NF-e: %w", err)
	}
	return doc, nil
}

func (b *DocumentBuilder) render(d nfe.InvoiceDraft, doc *nfe.CanonicalDocument, ufCode string) ([]byte, error) {
	var buf bytes.Buffer
	w := newXMLWriter(&buf)

	w.start("NFe", xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: pkgnfe.NamespaceNFe})
	w.start("infNFe",
		xml.Attr{Name: xml.Name{Local: "versao"}, Value: pkgnfe.LayoutVersion},
		xml.Attr{Name: xml.Name{Local: "Id"}, Value: doc.ID},
	)
	b.writeIde(w, d, doc, ufCode)
	writeEmit(w, d.Emitter)
	writeDest(w, d)
	for i, it := range d.Items {
		writeDet(w, i+1, it)
	}
	writeTotal(w, doc.Totals)
	writeTransp(w, d.Transport)
	writePag(w, d.Payment, doc.Totals)
	if info := pkgnfe.TruncateRunes(pkgnfe.SanitizeText(d.AdditionalInfo), 5000); info != "" {
		w.start("infAdic")
		w.leaf("infCpl", info)
		w.end("infAdic")
	}
	w.end("infNFe")
	w.end("NFe")

	if err := w.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ── Grupos ────────────────────────────────────────────────────────────────────

func (b *DocumentBuilder) writeIde(w *xmlWriter, d nfe.InvoiceDraft, doc *nfe.CanonicalDocument, ufCode string) {
	w.start("ide")
	w.leaf("cUF", ufCode)
	w.leaf("cNF", doc.NumericCode)
	w.leaf("natOp", text(d.OperationNature, 60))
	w.leaf("mod", pkgnfe.ModelNFe)
	w.leaf("serie", strconv.Itoa(d.Series))
	w.leaf("nNF", strconv.Itoa(d.Number))
	w.leaf("dhEmi", doc.IssuedAt.Format(dateTimeLayout))
	w.leaf("tpNF", orDefault(d.OperationType, pkgnfe.OperationOutbound))
	w.leaf("idDest", doc.Destination)
	w.leaf("cMunFG", d.Emitter.Address.CityCode)
	w.leaf("tpImp", "1")
	w.leaf("tpEmis", pkgnfe.EmissionNormal)
	w.leaf("cDV", doc.AccessKey[43:])
	w.leaf("tpAmb", d.Environment.TpAmb())
	w.leaf("finNFe", orDefault(d.Purpose, pkgnfe.PurposeNormal))
	w.leaf("indFinal", boolFlag(d.FinalConsumer))
	w.leaf("indPres", orDefault(d.PresenceIndicator, "1"))
	w.leaf("procEmi", "0")
	w.leaf("verProc", VerProc)
	w.end("ide")
}

func writeEmit(w *xmlWriter, e nfe.Emitter) {
	w.start("emit")
	w.leaf("CNPJ", pkgnfe.OnlyDigits(e.CNPJ))
	w.leaf("xNome", text(e.Name, 60))
	w.optional("xFant", text(e.TradeName, 60))
	writeAddress(w, "enderEmit", e.Address)
	w.leaf("IE", pkgnfe.OnlyDigits(e.IE))
	w.leaf("CRT", e.Regime.CRT())
	w.end("emit")
}

func writeDest(w *xmlWriter, d nfe.InvoiceDraft) {
	r := d.Recipient
	w.start("dest")
	switch {
	case r.CNPJ != "":
		w.leaf("CNPJ", pkgnfe.OnlyDigits(r.CNPJ))
	case r.CPF != "":
		w.leaf("CPF", pkgnfe.OnlyDigits(r.CPF))
	default:
		w.leaf("idEstrangeiro", text(r.ForeignID, 20))
	}
	name := text(r.Name, 60)
	if !d.Environment.IsProduction() {
		name = homologationRecipientName
	}
	w.leaf("xNome", name)
	writeAddress(w, "enderDest", r.Address)
	indIE := r.IEIndicator
	if indIE == "" {
		indIE = pkgnfe.RecipientIENone
		if r.IE != "" {
			indIE = pkgnfe.RecipientIEContributor
		}
	}
	w.leaf("indIEDest", indIE)
	if indIE == pkgnfe.RecipientIEContributor {
		w.leaf("IE", pkgnfe.OnlyDigits(r.IE))
	}
	w.optional("email", text(r.Email, 60))
	w.end("dest")
}

func writeAddress(w *xmlWriter, tag string, a nfe.Address) {
	w.start(tag)
	w.leaf("xLgr", text(a.Street, 60))
	w.leaf("nro", text(a.Number, 60))
	w.optional("xCpl", text(a.Complement, 60))
	w.leaf("xBairro", text(a.District, 60))
	if a.UF == pkgnfe.ForeignUF {
		w.leaf("cMun", "9999999")
		w.leaf("xMun", "EXTERIOR")
	} else {
		w.leaf("cMun", a.CityCode)
		w.leaf("xMun", text(a.CityName, 60))
	}
	w.leaf("UF", a.UF)
	w.optional("CEP", pkgnfe.OnlyDigits(a.ZipCode))
	w.leaf("cPais", orDefault(a.CountryCode, pkgnfe.CountryBrazil))
	w.leaf("xPais", orDefault(text(a.CountryName, 60), "BRASIL"))
	w.optional("fone", pkgnfe.OnlyDigits(a.Phone))
	w.end(tag)
}

func writeDet(w *xmlWriter, n int, it nfe.LineItem) {
	w.start("det", xml.Attr{Name: xml.Name{Local: "nItem"}, Value: strconv.Itoa(n)})

	w.start("prod")
	w.leaf("cProd", text(it.Code, 60))
	w.leaf("cEAN", orDefault(it.EAN, "SEM GTIN"))
	w.leaf("xProd", text(it.Description, 120))
	w.leaf("NCM", it.NCM)
	w.optional("CEST", it.CEST)
	w.leaf("CFOP", it.CFOP)
	w.leaf("uCom", text(it.Unit, 6))
	w.leaf("qCom", formatQty(it.Quantity))
	w.leaf("vUnCom", formatUnit(it.UnitValue))
	w.leaf("vProd", formatDecimal(it.GrossValue()))
	w.leaf("cEANTrib", orDefault(it.EAN, "SEM GTIN"))
	w.leaf("uTrib", text(it.Unit, 6))
	w.leaf("qTrib", formatQty(it.Quantity))
	w.leaf("vUnTrib", formatUnit(it.UnitValue))
	w.positive("vFrete", it.Freight)
	w.positive("vSeg", it.Insurance)
	w.positive("vDesc", it.Discount)
	w.positive("vOutro", it.OtherExpenses)
	w.leaf("indTot", "1")
	w.end("prod")

	w.start("imposto")
	writeICMS(w, it.Taxes.ICMS)
	if ipi := it.Taxes.IPI; ipi != nil {
		writeIPI(w, *ipi)
	}
	writeContribution(w, "PIS", it.Taxes.PIS)
	writeContribution(w, "COFINS", it.Taxes.COFINS)
	w.end("imposto")

	w.end("det")
}

func writeICMS(w *xmlWriter, r nfe.ICMSRecord) {
	w.start("ICMS")
	orig := strconv.Itoa(r.Origin)
	if !r.HasTriple() {
		group := pkgnfe.CSOSNGroup(r.CSOSN)
		w.start(group)
		w.leaf("orig", orig)
		w.leaf("CSOSN", r.CSOSN)
		switch group {
		case "ICMSSN101":
			w.leaf("pCredSN", formatRate(r.CreditRate))
			w.leaf("vCredICMSSN", formatDecimal(r.CreditValue))
		case "ICMSSN201", "ICMSSN202":
			writeSTZero(w)
		}
		w.end(group)
		w.end("ICMS")
		return
	}

	group := pkgnfe.ICMSCSTGroup(r.CST)
	w.start(group)
	w.leaf("orig", orig)
	w.leaf("CST", r.CST)
	switch r.CST {
	case "00", "51", "90":
		writeICMSOwn(w, r, false)
	case "10":
		writeICMSOwn(w, r, false)
		writeSTZero(w)
	case "20":
		writeICMSOwn(w, r, true)
	case "70":
		writeICMSOwn(w, r, true)
		writeSTZero(w)
	case "30":
		writeSTZero(w)
	}
	w.end(group)
	w.end("ICMS")
}

func writeICMSOwn(w *xmlWriter, r nfe.ICMSRecord, reduced bool) {
	w.leaf("modBC", r.BaseMode)
	if reduced {
		w.leaf("pRedBC", formatRate(decimal.Zero))
	}
	w.leaf("vBC", formatDecimal(r.Base))
	w.leaf("pICMS", formatRate(r.Rate))
	w.leaf("vICMS", formatDecimal(r.Value))
}

// writeSTZero grupo de ICMS-ST sin retención calculada (modBCST 4: margen de valor agregado).
func writeSTZero(w *xmlWriter) {
	w.leaf("modBCST", "4")
	w.leaf("vBCST", formatDecimal(decimal.Zero))
	w.leaf("pICMSST", formatRate(decimal.Zero))
	w.leaf("vICMSST", formatDecimal(decimal.Zero))
}

func writeIPI(w *xmlWriter, r nfe.IPIRecord) {
	w.start("IPI")
	w.leaf("cEnq", r.Enquadramento)
	if pkgnfe.IPITaxedCST[r.Code] {
		w.start("IPITrib")
		w.leaf("CST", r.Code)
		w.leaf("vBC", formatDecimal(r.Base))
		w.leaf("pIPI", formatRate(r.Rate))
		w.leaf("vIPI", formatDecimal(r.Value))
		w.end("IPITrib")
	} else {
		w.start("IPINT")
		w.leaf("CST", r.Code)
		w.end("IPINT")
	}
	w.end("IPI")
}

// writeContribution grupos PIS y COFINS (Aliq, NT u Outr según el CST).
func writeContribution(w *xmlWriter, tax string, r nfe.TaxRecord) {
	w.start(tax)
	group := tax + pkgnfe.PISCOFINSGroup(r.Code)
	w.start(group)
	w.leaf("CST", r.Code)
	if group != tax+"NT" {
		w.leaf("vBC", formatDecimal(r.Base))
		w.leaf("p"+tax, formatRate(r.Rate))
		w.leaf("v"+tax, formatDecimal(r.Value))
	}
	w.end(group)
	w.end(tax)
}

func writeTotal(w *xmlWriter, t nfe.Totals) {
	zero := formatDecimal(decimal.Zero)
	w.start("total")
	w.start("ICMSTot")
	w.leaf("vBC", formatDecimal(t.ICMSBase))
	w.leaf("vICMS", formatDecimal(t.ICMS))
	w.leaf("vICMSDeson", zero)
	w.leaf("vFCP", zero)
	w.leaf("vBCST", zero)
	w.leaf("vST", zero)
	w.leaf("vFCPST", zero)
	w.leaf("vFCPSTRet", zero)
	w.leaf("vProd", formatDecimal(t.Products))
	w.leaf("vFrete", formatDecimal(t.Freight))
	w.leaf("vSeg", formatDecimal(t.Insurance))
	w.leaf("vDesc", formatDecimal(t.Discount))
	w.leaf("vII", zero)
	w.leaf("vIPI", formatDecimal(t.IPI))
	w.leaf("vIPIDevol", zero)
	w.leaf("vPIS", formatDecimal(t.PIS))
	w.leaf("vCOFINS", formatDecimal(t.COFINS))
	w.leaf("vOutro", formatDecimal(t.Other))
	w.leaf("vNF", formatDecimal(t.Invoice))
	w.end("ICMSTot")
	w.end("total")
}

func writeTransp(w *xmlWriter, t nfe.Transport) {
	w.start("transp")
	w.leaf("modFrete", orDefault(t.Mode, pkgnfe.FreightNone))
	if c := t.Carrier; c != nil {
		w.start("transporta")
		if c.CNPJ != "" {
			w.leaf("CNPJ", pkgnfe.OnlyDigits(c.CNPJ))
		} else {
			w.optional("CPF", pkgnfe.OnlyDigits(c.CPF))
		}
		w.optional("xNome", text(c.Name, 60))
		w.optional("IE", pkgnfe.OnlyDigits(c.IE))
		w.optional("xEnder", text(c.Address, 60))
		w.optional("xMun", text(c.City, 60))
		w.optional("UF", c.UF)
		w.end("transporta")
	}
	for _, v := range t.Volumes {
		w.start("vol")
		if v.Quantity > 0 {
			w.leaf("qVol", strconv.Itoa(v.Quantity))
		}
		w.optional("esp", text(v.Species, 60))
		w.optional("marca", text(v.Brand, 60))
		if v.NetWeight.IsPositive() {
			w.leaf("pesoL", v.NetWeight.StringFixed(3))
		}
		if v.GrossWeight.IsPositive() {
			w.leaf("pesoB", v.GrossWeight.StringFixed(3))
		}
		w.end("vol")
	}
	w.end("transp")
}

func writePag(w *xmlWriter, p nfe.Payment, t nfe.Totals) {
	w.start("pag")
	methods := p.Methods
	if len(methods) == 0 {
		methods = []nfe.PaymentMethod{{Type: pkgnfe.PaymentNone, Amount: decimal.Zero}}
	}
	for _, m := range methods {
		w.start("detPag")
		w.optional("indPag", m.Indicator)
		w.leaf("tPag", m.Type)
		w.leaf("vPag", formatDecimal(m.Amount))
		w.end("detPag")
	}
	w.positive("vTroco", t.Change)
	w.end("pag")
}

// ── Escritor de tokens ────────────────────────────────────────────────────────

// xmlWriter envuelve xml.Encoder y conserva el primer error.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func newXMLWriter(buf *bytes.Buffer) *xmlWriter {
	return &xmlWriter{enc: xml.NewEncoder(buf)}
}

func (w *xmlWriter) token(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *xmlWriter) start(local string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: local}, Attr: attrs})
}

func (w *xmlWriter) end(local string) {
	w.token(xml.EndElement{Name: xml.Name{Local: local}})
}

func (w *xmlWriter) leaf(local, value string) {
	w.start(local)
	w.token(xml.CharData(value))
	w.end(local)
}

// optional omite el elemento si el valor está vacío.
func (w *xmlWriter) optional(local, value string) {
	if value != "" {
		w.leaf(local, value)
	}
}

// positive omite el elemento si el valor es cero.
func (w *xmlWriter) positive(local string, d decimal.Decimal) {
	if d.IsPositive() {
		w.leaf(local, formatDecimal(d))
	}
}

func (w *xmlWriter) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Flush()
}

// ── Formato ───────────────────────────────────────────────────────────────────

func formatDecimal(d decimal.Decimal) string { return d.Round(2).StringFixed(2) }
func formatQty(d decimal.Decimal) string     { return d.Round(4).StringFixed(4) }
func formatUnit(d decimal.Decimal) string    { return d.Round(10).StringFixed(10) }
func formatRate(d decimal.Decimal) string    { return d.Round(4).StringFixed(4) }

func text(s string, max int) string {
	return pkgnfe.TruncateRunes(pkgnfe.SanitizeText(s), max)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
