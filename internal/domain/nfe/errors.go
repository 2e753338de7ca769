package nfe

import (
	"errors"
	"fmt"
)

// Sentinelas por categoría; cada tipo de error concreto responde a errors.Is con la suya.
var (
	ErrValidation      = errors.New("nfe: entrada inválida")
	ErrCertificate     = errors.New("nfe: certificado digital inválido")
	ErrSigning         = errors.New("nfe: falla en la firma digital")
	ErrRemoteRejection = errors.New("nfe: rechazo de la SEFAZ")
	ErrRemoteTimeout   = errors.New("nfe: resultado pendiente en la SEFAZ")
	ErrTransport       = errors.New("nfe: falla de comunicación con la SEFAZ")
)

// ── Validación ────────────────────────────────────────────────────────────────

// ValidationCode clasifica el problema de entrada.
type ValidationCode string

const (
	CodeMissingRequiredField  ValidationCode = "missing_required_field"
	CodeInvalidField          ValidationCode = "invalid_field"
	CodeInvalidTotals         ValidationCode = "invalid_totals"
	CodeInvalidAccessKeyInput ValidationCode = "invalid_access_key_input"
	CodeInvalidTaxInput       ValidationCode = "invalid_tax_input"
	CodeInvalidJustification  ValidationCode = "invalid_justification"
)

// ValidationError entrada mal formada detectada antes de cualquier llamada de red.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("nfe: [%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("nfe: [%s] %s", e.Code, e.Message)
}

// Is permite errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// MissingField campo obligatorio ausente.
func MissingField(field string) *ValidationError {
	return &ValidationError{Code: CodeMissingRequiredField, Field: field, Message: "campo obligatorio"}
}

// InvalidField campo presente pero con formato o valor no permitido.
func InvalidField(field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeInvalidField, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidTaxInput código fuera de catálogo o base/alícuota/valor inconsistentes.
func InvalidTaxInput(field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeInvalidTaxInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidTotals totales inconsistentes o negativos.
func InvalidTotals(field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeInvalidTotals, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidAccessKeyInput datos que no permiten componer la clave de acceso.
func InvalidAccessKeyInput(field string, cause error) *ValidationError {
	return &ValidationError{Code: CodeInvalidAccessKeyInput, Field: field, Message: cause.Error()}
}

// ── Certificado ───────────────────────────────────────────────────────────────

// CertificateReason sub-tipo de falla del certificado.
type CertificateReason string

const (
	ReasonExpired      CertificateReason = "expired"
	ReasonNotYetValid  CertificateReason = "not_yet_valid"
	ReasonNoPrivateKey CertificateReason = "no_private_key"
	ReasonBadPassword  CertificateReason = "bad_password"
	ReasonUnreadable   CertificateReason = "unreadable"
)

// CertificateError el certificado PKCS#12 no se puede usar para firmar.
type CertificateError struct {
	Reason  CertificateReason
	Message string
	Cause   error
}

func (e *CertificateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("nfe: certificado [%s] %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("nfe: certificado [%s] %s", e.Reason, e.Message)
}

func (e *CertificateError) Unwrap() error        { return e.Cause }
func (e *CertificateError) Is(target error) bool { return target == ErrCertificate }

// ── Firma ─────────────────────────────────────────────────────────────────────

// SigningError falla fatal al canonicalizar o firmar; no se reintenta.
type SigningError struct {
	Message string
	Cause   error
}

func (e *SigningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("nfe: firma: %s: %v", e.Message, e.Cause)
	}
	return "nfe: firma: " + e.Message
}

func (e *SigningError) Unwrap() error        { return e.Cause }
func (e *SigningError) Is(target error) bool { return target == ErrSigning }

// ── Respuestas de la SEFAZ ────────────────────────────────────────────────────

// RemoteRejection rechazo determinista de la SEFAZ (cStat + xMotivo). No se reintenta.
type RemoteRejection struct {
	StatusCode int
	Reason     string
	Stage      Stage
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("nfe: SEFAZ rechazó (%s) cStat=%d: %s", e.Stage, e.StatusCode, e.Reason)
}

func (e *RemoteRejection) Is(target error) bool { return target == ErrRemoteRejection }

// RemoteTimeout el lote no llegó a un resultado definitivo dentro del límite de consultas.
// La NF-e puede autorizarse después: se debe consultar por clave, no reenviar.
type RemoteTimeout struct {
	AccessKey      string
	Receipt        string
	LastStatusCode int
	Attempts       int
	Cause          error
}

func (e *RemoteTimeout) Error() string {
	msg := fmt.Sprintf("nfe: sin resultado definitivo para recibo %s tras %d consultas (último cStat=%d)",
		e.Receipt, e.Attempts, e.LastStatusCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RemoteTimeout) Unwrap() error        { return e.Cause }
func (e *RemoteTimeout) Is(target error) bool { return target == ErrRemoteTimeout }

// TransportError falla de red o HTTP. Retryable indica si la operación es idempotente
// y el error es transitorio.
type TransportError struct {
	Op         string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *TransportError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("nfe: transporte %s: HTTP %d: %v", e.Op, e.HTTPStatus, e.Cause)
	}
	return fmt.Sprintf("nfe: transporte %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error        { return e.Cause }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRetryable indica si err es un TransportError transitorio.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// KindOf devuelve una etiqueta de baja cardinalidad para logs, métricas y mapeo HTTP.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCertificate):
		return "certificate"
	case errors.Is(err, ErrSigning):
		return "signing"
	case errors.Is(err, ErrRemoteRejection):
		return "rejection"
	case errors.Is(err, ErrRemoteTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
