package nfe

import "time"

// Stage etapa del flujo donde se originó un resultado o error.
type Stage string

const (
	StageCertificate Stage = "certificate"
	StageTaxes       Stage = "taxes"
	StageBuild       Stage = "build"
	StageSign        Stage = "sign"
	StageSubmit      Stage = "submit"
	StagePoll        Stage = "poll"
	StageProtocol    Stage = "protocol"
	StageEvent       Stage = "event"
	StageStatus      Stage = "status"
)

// OutcomeStatus variante del resultado.
type OutcomeStatus string

const (
	OutcomeAuthorized OutcomeStatus = "AUTHORIZED"
	OutcomeRejected   OutcomeStatus = "REJECTED"
	OutcomeTimedOut   OutcomeStatus = "TIMED_OUT"
	OutcomeCancelled  OutcomeStatus = "CANCELLED"
	OutcomeFailed     OutcomeStatus = "FAILED"
)

// AuthorizationOutcome resultado total de authorize(): siempre hay un valor inspeccionable.
//   - AUTHORIZED: AccessKey, Protocol, AuthorizedAt, SignedXML (nfeProc).
//   - REJECTED:   StatusCode, Reason.
//   - TIMED_OUT:  LastStatusCode, Receipt, Attempts.
//   - FAILED:     Stage y el error clasificado en Err().
type AuthorizationOutcome struct {
	Status         OutcomeStatus `json:"status"`
	AccessKey      string        `json:"access_key,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	AuthorizedAt   time.Time     `json:"authorized_at,omitempty"`
	SignedXML      []byte        `json:"-"`
	StatusCode     int           `json:"status_code,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	LastStatusCode int           `json:"last_status_code,omitempty"`
	Receipt        string        `json:"receipt,omitempty"`
	Attempts       int           `json:"attempts,omitempty"`
	Stage          Stage         `json:"stage,omitempty"`

	err error
}

// Err devuelve el error clasificado para REJECTED, TIMED_OUT y FAILED; nil si AUTHORIZED.
func (o AuthorizationOutcome) Err() error {
	switch o.Status {
	case OutcomeAuthorized:
		return nil
	case OutcomeRejected:
		if o.err != nil {
			return o.err
		}
		return &RemoteRejection{StatusCode: o.StatusCode, Reason: o.Reason, Stage: o.Stage}
	case OutcomeTimedOut:
		if o.err != nil {
			return o.err
		}
		return &RemoteTimeout{AccessKey: o.AccessKey, Receipt: o.Receipt, LastStatusCode: o.LastStatusCode, Attempts: o.Attempts}
	default:
		return o.err
	}
}

// Authorized resultado de una NF-e autorizada.
func Authorized(key, protocol string, code int, at time.Time, signedXML []byte) AuthorizationOutcome {
	return AuthorizationOutcome{
		Status: OutcomeAuthorized, AccessKey: key, Protocol: protocol,
		AuthorizedAt: at, SignedXML: signedXML, StatusCode: code,
	}
}

// Rejected rechazo de la SEFAZ con su código.
func Rejected(key string, stage Stage, code int, reason string) AuthorizationOutcome {
	return AuthorizationOutcome{
		Status: OutcomeRejected, AccessKey: key, Stage: stage, StatusCode: code, Reason: reason,
	}
}

// TimedOut sin resultado definitivo tras agotar las consultas (o por cancelación del contexto).
func TimedOut(key, receipt string, lastCode, attempts int, cause error) AuthorizationOutcome {
	o := AuthorizationOutcome{
		Status: OutcomeTimedOut, AccessKey: key, Stage: StagePoll,
		Receipt: receipt, LastStatusCode: lastCode, Attempts: attempts,
	}
	if cause != nil {
		o.err = &RemoteTimeout{AccessKey: key, Receipt: receipt, LastStatusCode: lastCode, Attempts: attempts, Cause: cause}
	}
	return o
}

// Failed falla local (validación, certificado, firma, transporte) en la etapa indicada.
func Failed(key string, stage Stage, err error) AuthorizationOutcome {
	return AuthorizationOutcome{Status: OutcomeFailed, AccessKey: key, Stage: stage, Reason: err.Error(), err: err}
}

// CancellationOutcome resultado total de cancel().
type CancellationOutcome struct {
	Status       OutcomeStatus `json:"status"`
	AccessKey    string        `json:"access_key"`
	Protocol     string        `json:"protocol,omitempty"`
	RegisteredAt time.Time     `json:"registered_at,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	EventXML     []byte        `json:"-"`
	Stage        Stage         `json:"stage,omitempty"`

	err error
}

// Err devuelve el error clasificado; nil si CANCELLED.
func (o CancellationOutcome) Err() error {
	switch o.Status {
	case OutcomeCancelled:
		return nil
	case OutcomeRejected:
		return &RemoteRejection{StatusCode: o.StatusCode, Reason: o.Reason, Stage: StageEvent}
	default:
		return o.err
	}
}

// Cancelled evento de cancelación registrado (135 o 155).
func Cancelled(key, protocol string, code int, reason string, at time.Time, eventXML []byte) CancellationOutcome {
	return CancellationOutcome{
		Status: OutcomeCancelled, AccessKey: key, Protocol: protocol, StatusCode: code,
		Reason: reason, RegisteredAt: at, EventXML: eventXML,
	}
}

// CancellationRejected evento rechazado; el código se expone sin cambios.
func CancellationRejected(key string, code int, reason string) CancellationOutcome {
	return CancellationOutcome{Status: OutcomeRejected, AccessKey: key, StatusCode: code, Reason: reason, Stage: StageEvent}
}

// CancellationFailed falla local antes o durante el envío del evento.
func CancellationFailed(key string, stage Stage, err error) CancellationOutcome {
	return CancellationOutcome{Status: OutcomeFailed, AccessKey: key, Stage: stage, Reason: err.Error(), err: err}
}
