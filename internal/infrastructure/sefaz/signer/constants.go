// Constantes XMLDSig exigidas por el MOC 4.00 (firma envuelta, C14N 1.0, RSA-SHA1).

package signer

// Namespaces y algoritmos.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// IDAttribute atributo que identifica el elemento firmado (infNFe, infEvento).
const IDAttribute = "Id"
