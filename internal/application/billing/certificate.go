package billing

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
)

// CertificateConfig ubicación del certificado A1 del emisor.
type CertificateConfig struct {
	Path     string // .p12/.pfx o .pem
	KeyPath  string // llave .pem cuando Path es sólo el certificado
	Password string
}

// FileCertificateSource lee el certificado en cada llamada, así la vigencia se verifica
// siempre contra la hora actual y un certificado renovado se toma sin reiniciar.
type FileCertificateSource struct {
	cfg    CertificateConfig
	loader *signer.Loader
}

func NewFileCertificateSource(cfg CertificateConfig, loader *signer.Loader) *FileCertificateSource {
	if loader == nil {
		loader = signer.NewLoader(nil)
	}
	return &FileCertificateSource{cfg: cfg, loader: loader}
}

// Identity carga el .p12/.pfx o el par .pem según la extensión.
func (s *FileCertificateSource) Identity(context.Context) (tls.Certificate, error) {
	if s.cfg.Path == "" {
		return tls.Certificate{}, &nfe.CertificateError{Reason: nfe.ReasonUnreadable, Message: "NFE_CERT_PATH no configurado"}
	}
	lower := strings.ToLower(s.cfg.Path)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") || s.cfg.KeyPath == "" {
		return s.loader.LoadFile(s.cfg.Path, s.cfg.Password)
	}
	return s.loader.LoadPEM(s.cfg.Path, s.cfg.KeyPath)
}

var _ CertificateSource = (*FileCertificateSource)(nil)
