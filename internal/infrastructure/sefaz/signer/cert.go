// Carga del certificado A1 (PKCS#12) del emisor con validación de vigencia.

package signer

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// Loader lee certificados y verifica que puedan firmar en la fecha del reloj.
// El tls.Certificate devuelto es de sólo lectura y se puede compartir entre goroutines.
type Loader struct {
	clock clock.Clock
}

// NewLoader crea el cargador. Con reloj nil usa el del sistema.
func NewLoader(c clock.Clock) *Loader {
	if c == nil {
		c = clock.System{}
	}
	return &Loader{clock: c}
}

// LoadFile lee un .p12/.pfx del disco.
func (l *Loader) LoadFile(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "leer " + path, Cause: err}
	}
	return l.Load(data, password)
}

// Load decodifica el contenedor PKCS#12. Errores posibles (*nfe.CertificateError):
// BadPassword, NoPrivateKey, Expired, NotYetValid y Unreadable.
func (l *Loader) Load(data []byte, password string) (tls.Certificate, error) {
	if len(data) == 0 {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "contenedor vacío"}
	}

	priv, leaf, err := pkcs12.Decode(data, password)
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonBadPassword, Message: "contraseña incorrecta"}
	}
	var chain []*x509.Certificate
	if err == nil {
		chain = []*x509.Certificate{leaf}
	} else {
		// Decode sólo admite exactamente un certificado y una llave; con cadena o sin llave
		// se recorre el contenido con ToPEM.
		priv, chain, err = fromPEMBlocks(data, password)
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	if priv == nil {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonNoPrivateKey, Message: "el contenedor no incluye llave privada"}
	}
	if len(chain) == 0 {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "el contenedor no incluye certificado"}
	}
	return l.identity(priv, chain)
}

// LoadPEM carga certificado y llave desde archivos PEM (entornos de desarrollo).
func (l *Loader) LoadPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "cargar PEM", Cause: err}
	}
	chain := make([]*x509.Certificate, 0, len(pair.Certificate))
	for _, der := range pair.Certificate {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "parsear certificado", Cause: err}
		}
		chain = append(chain, c)
	}
	if pair.PrivateKey == nil {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonNoPrivateKey, Message: "archivo sin llave privada"}
	}
	return l.identity(pair.PrivateKey, chain)
}

// identity verifica vigencia y tipo de llave y arma el tls.Certificate (hoja primero).
func (l *Loader) identity(priv any, chain []*x509.Certificate) (tls.Certificate, error) {
	leaf := chain[0]
	now := l.clock.Now()
	if now.Before(leaf.NotBefore) {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonNotYetValid,
			Message: fmt.Sprintf("vigente desde %s", leaf.NotBefore.Format("2006-01-02 15:04:05 MST"))}
	}
	if now.After(leaf.NotAfter) {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonExpired,
			Message: fmt.Sprintf("venció el %s", leaf.NotAfter.Format("2006-01-02 15:04:05 MST"))}
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonNoPrivateKey, Message: "la llave privada debe ser RSA"}
	}
	if !key.PublicKey.Equal(leaf.PublicKey) {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonNoPrivateKey, Message: "la llave privada no corresponde al certificado"}
	}

	raw := make([][]byte, 0, len(chain))
	for _, c := range chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{Certificate: raw, PrivateKey: key, Leaf: leaf}, nil
}

// singleBagErr lo devuelve ToPEM cuando el authenticated safe no trae las dos bolsas
// (certificados y llave). Se produce después de verificar la MAC, así que la contraseña
// es correcta y lo que falta es la llave.
const singleBagErr = "expected exactly two items in the authenticated safe"

func fromPEMBlocks(data []byte, password string) (any, []*x509.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, nil, &nfe.CertificateError{Reason: nfe.ReasonBadPassword, Message: "contraseña incorrecta"}
	}
	if err != nil && strings.Contains(err.Error(), singleBagErr) {
		return nil, nil, &nfe.CertificateError{Reason: nfe.ReasonNoPrivateKey, Message: "el contenedor no incluye llave privada", Cause: err}
	}
	if err != nil {
		return nil, nil, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "decodificar PKCS#12", Cause: err}
	}
	return splitBlocks(blocks)
}

// splitBlocks separa llave y certificados; la hoja va primero.
func splitBlocks(blocks []*pem.Block) (any, []*x509.Certificate, error) {
	var (
		priv  any
		leaf  *x509.Certificate
		keyed bool // leaf es la que lleva localKeyId
		chain []*x509.Certificate
	)
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, nil, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "parsear certificado", Cause: err}
			}
			// La hoja es la que lleva localKeyId (asociada a la llave) o, sin ella, la primera no-CA.
			if _, ok := b.Headers["localKeyId"]; ok && !keyed {
				if leaf != nil {
					chain = append(chain, leaf)
				}
				leaf, keyed = c, true
				continue
			}
			if leaf == nil && !c.IsCA {
				leaf = c
				continue
			}
			chain = append(chain, c)
		case "PRIVATE KEY":
			k, err := parsePrivateKey(b)
			if err != nil {
				return nil, nil, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "parsear llave privada", Cause: err}
			}
			priv = k
		}
	}
	if leaf != nil {
		chain = append([]*x509.Certificate{leaf}, chain...)
	}
	return priv, chain, nil
}

func parsePrivateKey(b *pem.Block) (any, error) {
	if k, err := x509.ParsePKCS1PrivateKey(b.Bytes); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS8PrivateKey(b.Bytes); err == nil {
		return k, nil
	}
	return x509.ParseECPrivateKey(b.Bytes)
}
