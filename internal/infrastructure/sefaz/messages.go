package sefaz

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ── Pedidos ───────────────────────────────────────────────────────────────────

type enviNFe struct {
	XMLName xml.Name `xml:"enviNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	IdLote  string   `xml:"idLote"`
	IndSinc string   `xml:"indSinc"`
	Docs    []byte   `xml:",innerxml"`
}

type consReciNFe struct {
	XMLName xml.Name `xml:"consReciNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	TpAmb   string   `xml:"tpAmb"`
	NRec    string   `xml:"nRec"`
}

type consStatServ struct {
	XMLName xml.Name `xml:"consStatServ"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	TpAmb   string   `xml:"tpAmb"`
	CUF     string   `xml:"cUF"`
	XServ   string   `xml:"xServ"`
}

type consSitNFe struct {
	XMLName xml.Name `xml:"consSitNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	TpAmb   string   `xml:"tpAmb"`
	XServ   string   `xml:"xServ"`
	ChNFe   string   `xml:"chNFe"`
}

type envEvento struct {
	XMLName xml.Name `xml:"envEvento"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	IdLote  string   `xml:"idLote"`
	Eventos []byte   `xml:",innerxml"`
}

// buildEnviNFe lote de NF-e firmadas. idLote se limita a 15 dígitos.
func buildEnviNFe(batchID string, sync bool, docs []nfe.SignedDocument) ([]byte, error) {
	id := pkgnfe.OnlyDigits(batchID)
	if id == "" || len(id) > 15 {
		return nil, fmt.Errorf("sefaz: idLote debe tener entre 1 y 15 dígitos, recibido %q", batchID)
	}
	if len(docs) == 0 || len(docs) > 50 {
		return nil, fmt.Errorf("sefaz: el lote debe tener entre 1 y 50 NF-e, recibido %d", len(docs))
	}
	var inner bytes.Buffer
	for _, d := range docs {
		inner.Write(stripDeclaration(d.XML))
	}
	msg := enviNFe{
		Xmlns: pkgnfe.NamespaceNFe, Versao: pkgnfe.LayoutVersion,
		IdLote: id, IndSinc: boolFlag(sync), Docs: inner.Bytes(),
	}
	return xml.Marshal(msg)
}

func buildConsReciNFe(env nfe.Environment, receipt string) ([]byte, error) {
	return xml.Marshal(consReciNFe{
		Xmlns: pkgnfe.NamespaceNFe, Versao: pkgnfe.LayoutVersion,
		TpAmb: env.TpAmb(), NRec: receipt,
	})
}

func buildConsStatServ(env nfe.Environment, uf string) ([]byte, error) {
	code, ok := pkgnfe.UFCode(uf)
	if !ok {
		return nil, fmt.Errorf("sefaz: UF desconocida %q", uf)
	}
	return xml.Marshal(consStatServ{
		Xmlns: pkgnfe.NamespaceNFe, Versao: pkgnfe.LayoutVersion,
		TpAmb: env.TpAmb(), CUF: code, XServ: "STATUS",
	})
}

func buildConsSitNFe(env nfe.Environment, key string) ([]byte, error) {
	return xml.Marshal(consSitNFe{
		Xmlns: pkgnfe.NamespaceNFe, Versao: pkgnfe.LayoutVersion,
		TpAmb: env.TpAmb(), XServ: "CONSULTAR", ChNFe: key,
	})
}

func buildEnvEvento(batchID string, signedEvents ...[]byte) ([]byte, error) {
	id := pkgnfe.OnlyDigits(batchID)
	if id == "" || len(id) > 15 {
		return nil, fmt.Errorf("sefaz: idLote debe tener entre 1 y 15 dígitos, recibido %q", batchID)
	}
	var inner bytes.Buffer
	for _, e := range signedEvents {
		inner.Write(stripDeclaration(e))
	}
	return xml.Marshal(envEvento{
		Xmlns: pkgnfe.NamespaceNFe, Versao: pkgnfe.EventVersion,
		IdLote: id, Eventos: inner.Bytes(),
	})
}

// ── Respuestas ────────────────────────────────────────────────────────────────

type infProt struct {
	TpAmb    string `xml:"tpAmb"`
	VerAplic string `xml:"verAplic"`
	ChNFe    string `xml:"chNFe"`
	DhRecbto string `xml:"dhRecbto"`
	NProt    string `xml:"nProt"`
	DigVal   string `xml:"digVal"`
	CStat    string `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
}

// protNFe protocolo de una NF-e. Inner conserva el contenido tal cual para el nfeProc.
type protNFe struct {
	Versao  string  `xml:"versao,attr"`
	InfProt infProt `xml:"infProt"`
	Inner   []byte  `xml:",innerxml"`
}

type retEnviNFe struct {
	TpAmb    string `xml:"tpAmb"`
	VerAplic string `xml:"verAplic"`
	CStat    string `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
	CUF      string `xml:"cUF"`
	DhRecbto string `xml:"dhRecbto"`
	InfRec   *struct {
		NRec string `xml:"nRec"`
		TMed string `xml:"tMed"`
	} `xml:"infRec"`
	ProtNFe *protNFe `xml:"protNFe"`
}

type retConsReciNFe struct {
	TpAmb   string    `xml:"tpAmb"`
	NRec    string    `xml:"nRec"`
	CStat   string    `xml:"cStat"`
	XMotivo string    `xml:"xMotivo"`
	ProtNFe []protNFe `xml:"protNFe"`
}

type retConsStatServ struct {
	TpAmb     string `xml:"tpAmb"`
	VerAplic  string `xml:"verAplic"`
	CStat     string `xml:"cStat"`
	XMotivo   string `xml:"xMotivo"`
	CUF       string `xml:"cUF"`
	DhRecbto  string `xml:"dhRecbto"`
	TMed      string `xml:"tMed"`
	DhRetorno string `xml:"dhRetorno"`
	XObs      string `xml:"xObs"`
}

type retConsSitNFe struct {
	TpAmb   string   `xml:"tpAmb"`
	CStat   string   `xml:"cStat"`
	XMotivo string   `xml:"xMotivo"`
	ChNFe   string   `xml:"chNFe"`
	ProtNFe *protNFe `xml:"protNFe"`
}

type infEventoRet struct {
	TpAmb       string `xml:"tpAmb"`
	COrgao      string `xml:"cOrgao"`
	CStat       string `xml:"cStat"`
	XMotivo     string `xml:"xMotivo"`
	ChNFe       string `xml:"chNFe"`
	TpEvento    string `xml:"tpEvento"`
	NSeqEvento  string `xml:"nSeqEvento"`
	DhRegEvento string `xml:"dhRegEvento"`
	NProt       string `xml:"nProt"`
}

type retEvento struct {
	Versao    string       `xml:"versao,attr"`
	InfEvento infEventoRet `xml:"infEvento"`
	Inner     []byte       `xml:",innerxml"`
}

type retEnvEvento struct {
	IdLote    string      `xml:"idLote"`
	TpAmb     string      `xml:"tpAmb"`
	COrgao    string      `xml:"cOrgao"`
	CStat     string      `xml:"cStat"`
	XMotivo   string      `xml:"xMotivo"`
	RetEvento []retEvento `xml:"retEvento"`
}

// decode parsea la respuesta de la SEFAZ; un XML ilegible se trata como falla de transporte
// (no hay cStat que interpretar).
func decode(op string, raw []byte, v any) error {
	if err := xml.Unmarshal(raw, v); err != nil {
		return &nfe.TransportError{Op: op, Cause: fmt.Errorf("respuesta ilegible: %w", err)}
	}
	return nil
}

func statusOf(op, raw string) (int, error) {
	code, err := pkgnfe.ParseStatus(raw)
	if err != nil {
		return 0, &nfe.TransportError{Op: op, Cause: err}
	}
	return code, nil
}

// parseSefazTime acepta dhRecbto con o sin zona horaria.
func parseSefazTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ── Documentos de distribución ────────────────────────────────────────────────

// buildNFeProc arma el nfeProc (NFe firmada + protNFe) que se entrega al destinatario.
func buildNFeProc(signedNFe []byte, prot *protNFe) []byte {
	versao := prot.Versao
	if versao == "" {
		versao = pkgnfe.LayoutVersion
	}
	var b bytes.Buffer
	b.WriteString(xml.Header[:len(xml.Header)-1])
	fmt.Fprintf(&b, `<nfeProc xmlns="%s" versao="%s">`, pkgnfe.NamespaceNFe, pkgnfe.LayoutVersion)
	b.Write(stripDeclaration(signedNFe))
	fmt.Fprintf(&b, `<protNFe versao="%s">`, versao)
	b.Write(bytes.TrimSpace(prot.Inner))
	b.WriteString(`</protNFe></nfeProc>`)
	return b.Bytes()
}

// buildProcEvento arma el procEventoNFe (evento firmado + retEvento).
func buildProcEvento(signedEvent []byte, ret *retEvento) []byte {
	versao := ret.Versao
	if versao == "" {
		versao = pkgnfe.EventVersion
	}
	var b bytes.Buffer
	b.WriteString(xml.Header[:len(xml.Header)-1])
	fmt.Fprintf(&b, `<procEventoNFe xmlns="%s" versao="%s">`, pkgnfe.NamespaceNFe, pkgnfe.EventVersion)
	b.Write(stripDeclaration(signedEvent))
	fmt.Fprintf(&b, `<retEvento versao="%s">`, versao)
	b.Write(bytes.TrimSpace(ret.Inner))
	b.WriteString(`</retEvento></procEventoNFe>`)
	return b.Bytes()
}

// stripDeclaration quita la declaración <?xml ...?> inicial para incrustar el documento.
func stripDeclaration(b []byte) []byte {
	t := bytes.TrimSpace(b)
	t = bytes.TrimPrefix(t, []byte("\xef\xbb\xbf"))
	if bytes.HasPrefix(t, []byte("<?xml")) {
		if i := bytes.Index(t, []byte("?>")); i >= 0 {
			return bytes.TrimSpace(t[i+2:])
		}
	}
	return t
}
