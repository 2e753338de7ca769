package dto

import (
	"time"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// AuthorizeNFeRequest borrador de la NF-e a emitir (mismo formato que nfe.InvoiceDraft).
type AuthorizeNFeRequest struct {
	nfe.InvoiceDraft
}

// AuthorizationResponse resultado de la emisión. XML lleva el nfeProc cuando fue autorizada.
type AuthorizationResponse struct {
	Status         string     `json:"status"`
	AccessKey      string     `json:"access_key,omitempty"`
	Protocol       string     `json:"protocol,omitempty"`
	AuthorizedAt   *time.Time `json:"authorized_at,omitempty"`
	StatusCode     int        `json:"status_code,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	Receipt        string     `json:"receipt,omitempty"`
	Attempts       int        `json:"attempts,omitempty"`
	Stage          string     `json:"stage,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	XML            string     `json:"xml,omitempty"`
}

// FromAuthorization arma la respuesta a partir del resultado.
func FromAuthorization(o nfe.AuthorizationOutcome) AuthorizationResponse {
	r := AuthorizationResponse{
		Status:         string(o.Status),
		AccessKey:      o.AccessKey,
		Protocol:       o.Protocol,
		StatusCode:     o.StatusCode,
		Reason:         o.Reason,
		LastStatusCode: o.LastStatusCode,
		Receipt:        o.Receipt,
		Attempts:       o.Attempts,
		Stage:          string(o.Stage),
		XML:            string(o.SignedXML),
	}
	if !o.AuthorizedAt.IsZero() {
		at := o.AuthorizedAt
		r.AuthorizedAt = &at
	}
	if err := o.Err(); err != nil {
		r.ErrorKind = nfe.KindOf(err)
	}
	return r
}

// CancelNFeRequest pedido de cancelación.
type CancelNFeRequest struct {
	AccessKey     string `json:"access_key" validate:"required,len=44"`
	Protocol      string `json:"protocol" validate:"required,len=15"`
	Justification string `json:"justification" validate:"required,min=15,max=255"`
	Sequence      int    `json:"sequence,omitempty"`
	Environment   string `json:"environment,omitempty"`
}

// ToEvent convierte el pedido en evento; el ambiente vacío queda para el valor por defecto.
func (r CancelNFeRequest) ToEvent() (nfe.CancellationEvent, error) {
	ev := nfe.CancellationEvent{
		AccessKey:     r.AccessKey,
		Protocol:      r.Protocol,
		Justification: r.Justification,
		Sequence:      r.Sequence,
	}
	if r.Environment != "" {
		env, err := nfe.ParseEnvironment(r.Environment)
		if err != nil {
			return ev, nfe.InvalidField("environment", "%v", err)
		}
		ev.Environment = env
	}
	return ev, nil
}

// CancellationResponse resultado de la cancelación. XML lleva el procEventoNFe.
type CancellationResponse struct {
	Status       string     `json:"status"`
	AccessKey    string     `json:"access_key"`
	Protocol     string     `json:"protocol,omitempty"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	StatusCode   int        `json:"status_code,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Stage        string     `json:"stage,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	XML          string     `json:"xml,omitempty"`
}

// FromCancellation arma la respuesta a partir del resultado.
func FromCancellation(o nfe.CancellationOutcome) CancellationResponse {
	r := CancellationResponse{
		Status:     string(o.Status),
		AccessKey:  o.AccessKey,
		Protocol:   o.Protocol,
		StatusCode: o.StatusCode,
		Reason:     o.Reason,
		Stage:      string(o.Stage),
		XML:        string(o.EventXML),
	}
	if !o.RegisteredAt.IsZero() {
		at := o.RegisteredAt
		r.RegisteredAt = &at
	}
	if err := o.Err(); err != nil {
		r.ErrorKind = nfe.KindOf(err)
	}
	return r
}

// HistoryEntry registro del diario sin el XML.
type HistoryEntry struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Operation     string    `json:"operation"`
	Status        string    `json:"status"`
	Stage         string    `json:"stage,omitempty"`
	StatusCode    int       `json:"status_code,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
	Receipt       string    `json:"receipt,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Total         string    `json:"vNF,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryResponse historial de una clave, más reciente primero.
type HistoryResponse struct {
	AccessKey string         `json:"access_key"`
	Items     []HistoryEntry `json:"items"`
}

// FromHistory convierte los registros del diario.
func FromHistory(key string, list []*entity.NFeOutcome) HistoryResponse {
	items := make([]HistoryEntry, 0, len(list))
	for _, o := range list {
		e := HistoryEntry{
			ID:            o.ID,
			CorrelationID: o.CorrelationID,
			Operation:     o.Operation,
			Status:        o.Status,
			Stage:         o.Stage,
			StatusCode:    o.StatusCode,
			Reason:        o.Reason,
			Protocol:      o.Protocol,
			Receipt:       o.Receipt,
			Attempts:      o.Attempts,
			ErrorKind:     o.ErrorKind,
			CreatedAt:     o.CreatedAt,
		}
		if o.Total.Valid {
			e.Total = o.Total.Decimal.StringFixed(2)
		}
		items = append(items, e)
	}
	return HistoryResponse{AccessKey: key, Items: items}
}
