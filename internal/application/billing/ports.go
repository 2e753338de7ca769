package billing

import (
	"context"
	"crypto/tls"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
)

// CertificateSource entrega la identidad del emisor (certificado A1 + llave) ya validada.
type CertificateSource interface {
	Identity(ctx context.Context) (tls.Certificate, error)
}

// TaxResolver completa los tributos de cada ítem según el régimen del emisor.
type TaxResolver interface {
	ResolveAll(draft nfe.InvoiceDraft) (nfe.InvoiceDraft, error)
}

// DocumentBuilder arma el XML canónico de la NF-e con su clave de acceso.
type DocumentBuilder interface {
	Build(draft nfe.InvoiceDraft) (*nfe.CanonicalDocument, error)
}

// DocumentSigner firma infNFe.
type DocumentSigner interface {
	SignDocument(doc *nfe.CanonicalDocument, cert tls.Certificate) (*nfe.SignedDocument, error)
}

// SefazGateway autorización y consultas contra la SEFAZ.
type SefazGateway interface {
	Authorize(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate) nfe.AuthorizationOutcome
	Status(ctx context.Context, env nfe.Environment, uf string, identity tls.Certificate) (sefaz.StatusResult, error)
	QueryProtocol(ctx context.Context, env nfe.Environment, uf, key string, identity tls.Certificate) (sefaz.ProtocolStatus, error)
}

// Canceller registra el evento de cancelación.
type Canceller interface {
	Cancel(ctx context.Context, ev nfe.CancellationEvent, identity tls.Certificate) nfe.CancellationOutcome
}

// OutcomeObserver recibe cada resultado terminal (métricas).
type OutcomeObserver interface {
	ObserveOutcome(operation string, status nfe.OutcomeStatus, stage nfe.Stage)
}

var (
	_ TaxResolver     = (*nfe.TaxRuleResolver)(nil)
	_ DocumentBuilder = (*sefaz.DocumentBuilder)(nil)
	_ SefazGateway    = (*sefaz.Gateway)(nil)
	_ Canceller       = (*sefaz.EventProcessor)(nil)
)
