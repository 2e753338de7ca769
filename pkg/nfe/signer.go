package nfe

import "crypto/tls"

// Signer firma un documento XML con firma XMLDSig envuelta.
type Signer interface {
	// Sign firma el elemento cuyo atributo Id es referenceID y devuelve el XML con el
	// nodo Signature insertado como hermano inmediato de ese elemento.
	Sign(xmlBytes []byte, referenceID string, cert tls.Certificate) ([]byte, error)
}
