package nfe

import (
	"errors"
	"fmt"
	"unicode/utf8"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Límites del evento de cancelación (xJust, nSeqEvento).
const (
	MinJustification = 15
	MaxJustification = 255
	MaxEventSequence = 20
	ProtocolLength   = 15
)

// Normalize completa la secuencia por defecto y limpia la justificación.
func (e CancellationEvent) Normalize() CancellationEvent {
	if e.Sequence == 0 {
		e.Sequence = 1
	}
	e.Justification = pkgnfe.SanitizeText(e.Justification)
	e.AccessKey = pkgnfe.OnlyDigits(e.AccessKey)
	return e
}

// ValidateCancellation revisa el pedido antes de firmarlo o enviarlo. Todos los problemas
// se devuelven unidos; cada uno es un *ValidationError.
func ValidateCancellation(e CancellationEvent) error {
	var errs []error
	if err := pkgnfe.ValidateAccessKey(e.AccessKey); err != nil {
		errs = append(errs, InvalidAccessKeyInput("access_key", err))
	}
	if !pkgnfe.IsDigits(e.Protocol, ProtocolLength) {
		errs = append(errs, InvalidField("protocol", "el protocolo de autorización debe tener %d dígitos", ProtocolLength))
	}
	if n := utf8.RuneCountInString(pkgnfe.SanitizeText(e.Justification)); n < MinJustification || n > MaxJustification {
		errs = append(errs, &ValidationError{
			Code:    CodeInvalidJustification,
			Field:   "justification",
			Message: fmt.Sprintf("la justificación debe tener entre %d y %d caracteres, tiene %d", MinJustification, MaxJustification, n),
		})
	}
	if e.Sequence < 1 || e.Sequence > MaxEventSequence {
		errs = append(errs, InvalidField("sequence", "nSeqEvento fuera de 1..%d: %d", MaxEventSequence, e.Sequence))
	}
	switch e.Environment {
	case EnvironmentProduction, EnvironmentHomologation:
	default:
		errs = append(errs, InvalidField("environment", "ambiente desconocido %q", e.Environment))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
