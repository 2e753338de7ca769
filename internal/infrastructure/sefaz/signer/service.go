// Firma XMLDSig envuelta de la NF-e y de los eventos (MOC 4.00, anexo de firma).
// El nodo <Signature> se inserta como hermano inmediato del elemento firmado
// (infNFe dentro de NFe, infEvento dentro de evento).

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// DigitalSignatureService implementa pkg/nfe.Signer. No tiene estado; es seguro para uso concurrente.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// signature resultado intermedio de la firma.
type signature struct {
	xml            []byte
	digestValue    string
	signatureValue string
	cert           *x509.Certificate
}

// Sign firma el elemento con Id=referenceID y devuelve el documento con <Signature> insertado.
// Cualquier falla se devuelve como *nfe.SigningError.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, referenceID string, cert tls.Certificate) ([]byte, error) {
	sig, err := s.sign(xmlBytes, referenceID, cert)
	if err != nil {
		return nil, err
	}
	return sig.xml, nil
}

// SignDocument firma infNFe del documento canónico.
func (s *DigitalSignatureService) SignDocument(doc *nfe.CanonicalDocument, cert tls.Certificate) (*nfe.SignedDocument, error) {
	if doc == nil {
		return nil, &nfe.SigningError{Message: "documento nulo"}
	}
	sig, err := s.sign(doc.XML, doc.ID, cert)
	if err != nil {
		return nil, err
	}
	return &nfe.SignedDocument{
		AccessKey:      doc.AccessKey,
		ID:             doc.ID,
		Environment:    doc.Environment,
		UF:             doc.UF,
		XML:            sig.xml,
		DigestValue:    sig.digestValue,
		SignatureValue: sig.signatureValue,
		Certificate:    sig.cert,
	}, nil
}

func (s *DigitalSignatureService) sign(xmlBytes []byte, referenceID string, cert tls.Certificate) (*signature, error) {
	if len(xmlBytes) == 0 {
		return nil, &nfe.SigningError{Message: "XML vacío"}
	}
	if referenceID == "" {
		return nil, &nfe.SigningError{Message: "Id de referencia vacío"}
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, &nfe.SigningError{Message: "el certificado debe incluir llave privada RSA"}
	}
	if len(cert.Certificate) == 0 {
		return nil, &nfe.SigningError{Message: "identidad sin certificado"}
	}
	x509Cert := cert.Leaf
	if x509Cert == nil {
		var err error
		if x509Cert, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, &nfe.SigningError{Message: "parsear certificado", Cause: err}
		}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, &nfe.SigningError{Message: "parsear XML", Cause: err}
	}
	target := findByID(doc.Root(), referenceID)
	if target == nil {
		return nil, &nfe.SigningError{Message: fmt.Sprintf("no se encontró el elemento con Id=%q", referenceID)}
	}
	parent := target.Parent()
	if parent == nil || parent == &doc.Element {
		return nil, &nfe.SigningError{Message: "el elemento firmado no puede ser la raíz del documento"}
	}

	// 1) Digest del elemento referenciado (C14N con los namespaces heredados).
	canonicalTarget, err := canonicalElement(target)
	if err != nil {
		return nil, &nfe.SigningError{Message: "canonicalizar " + target.Tag, Cause: err}
	}
	digest := sha1.Sum(canonicalTarget)
	digestB64 := base64.StdEncoding.EncodeToString(digest[:])

	// 2) SignedInfo canonicalizado y firmado con RSA-SHA1.
	signedInfoXML := buildSignedInfo(referenceID, digestB64)
	canonicalSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, &nfe.SigningError{Message: "canonicalizar SignedInfo", Cause: err}
	}
	h := sha1.Sum(canonicalSignedInfo)
	raw, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA1, h[:])
	if err != nil {
		return nil, &nfe.SigningError{Message: "firmar SignedInfo", Cause: err}
	}
	signatureB64 := base64.StdEncoding.EncodeToString(raw)

	// 3) Signature completo, insertado después del elemento firmado.
	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(buildSignature(signedInfoXML, signatureB64, certB64)); err != nil {
		return nil, &nfe.SigningError{Message: "parsear Signature", Cause: err}
	}
	parent.InsertChildAt(target.Index()+1, sigDoc.Root())

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, &nfe.SigningError{Message: "serializar XML firmado", Cause: err}
	}
	return &signature{xml: out, digestValue: digestB64, signatureValue: signatureB64, cert: x509Cert}, nil
}

func buildSignedInfo(referenceID, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA1 + `"/>`)
	sb.WriteString(`<Reference URI="#` + referenceID + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

// buildSignature el SignedInfo hereda el namespace de Signature, por eso se quita su xmlns.
func buildSignature(signedInfoXML, signatureB64, certB64 string) string {
	inner := strings.Replace(signedInfoXML, ` xmlns="`+NamespaceDS+`"`, "", 1)
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(inner)
	sb.WriteString(`<SignatureValue>` + signatureB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// ── C14N ──────────────────────────────────────────────────────────────────────

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// canonicalElement serializa una copia del elemento con las declaraciones de namespace
// heredadas de sus ancestros y la canonicaliza.
func canonicalElement(el *etree.Element) ([]byte, error) {
	standalone, err := detached(el)
	if err != nil {
		return nil, err
	}
	return canonicalize(standalone)
}

func detached(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	for _, ns := range inheritedNamespaces(el) {
		if cp.SelectAttr(ns.FullKey()) == nil {
			cp.CreateAttr(ns.FullKey(), ns.Value)
		}
	}
	d := etree.NewDocument()
	d.SetRoot(cp)
	return d.WriteToBytes()
}

// inheritedNamespaces declaraciones xmlns visibles en el elemento, la más cercana gana.
func inheritedNamespaces(el *etree.Element) []etree.Attr {
	seen := map[string]bool{}
	var out []etree.Attr
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if a.Space != "xmlns" && !(a.Space == "" && a.Key == "xmlns") {
				continue
			}
			if seen[a.FullKey()] {
				continue
			}
			seen[a.FullKey()] = true
			out = append(out, a)
		}
	}
	return out
}

func findByID(el *etree.Element, id string) *etree.Element {
	if el == nil {
		return nil
	}
	if el.SelectAttrValue(IDAttribute, "") == id {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

var _ pkgnfe.Signer = (*DigitalSignatureService)(nil)
