package signer

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Verify valida la firma del elemento con Id=referenceID contra el certificado incluido
// en KeyInfo y devuelve ese certificado. Con at distinto de cero la vigencia se evalúa en
// esa fecha (documentos firmados en el pasado). No valida la cadena ICP-Brasil.
func Verify(signedXML []byte, referenceID string, at time.Time) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return nil, fmt.Errorf("signer: parsear XML: %w", err)
	}
	target := findByID(doc.Root(), referenceID)
	if target == nil {
		return nil, fmt.Errorf("signer: no se encontró el elemento con Id=%q", referenceID)
	}
	sig := nextSignature(target)
	if sig == nil {
		return nil, fmt.Errorf("signer: el elemento %s no tiene Signature", referenceID)
	}
	cert, err := embeddedCertificate(sig)
	if err != nil {
		return nil, err
	}

	// goxmldsig espera la firma como hija del elemento referenciado: se arma una copia
	// con los namespaces heredados y la Signature adentro (la transformación enveloped la quita).
	standalone, err := detached(target)
	if err != nil {
		return nil, fmt.Errorf("signer: serializar %s: %w", target.Tag, err)
	}
	check := etree.NewDocument()
	if err := check.ReadFromBytes(standalone); err != nil {
		return nil, fmt.Errorf("signer: releer %s: %w", target.Tag, err)
	}
	check.Root().AddChild(sig.Copy())

	vctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	vctx.IdAttribute = IDAttribute
	if !at.IsZero() {
		vctx.Clock = dsig.NewFakeClockAt(at)
	}
	if _, err := vctx.Validate(check.Root()); err != nil {
		return nil, fmt.Errorf("signer: firma inválida: %w", err)
	}
	return cert, nil
}

func nextSignature(el *etree.Element) *etree.Element {
	parent := el.Parent()
	if parent == nil {
		return nil
	}
	children := parent.ChildElements()
	for i, c := range children {
		if c == el && i+1 < len(children) && children[i+1].Tag == "Signature" {
			return children[i+1]
		}
	}
	return nil
}

func embeddedCertificate(sig *etree.Element) (*x509.Certificate, error) {
	node := sig.FindElement("./KeyInfo/X509Data/X509Certificate")
	if node == nil {
		return nil, fmt.Errorf("signer: Signature sin X509Certificate")
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(node.Text()), ""))
	if err != nil {
		return nil, fmt.Errorf("signer: decodificar X509Certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("signer: parsear X509Certificate: %w", err)
	}
	return cert, nil
}
