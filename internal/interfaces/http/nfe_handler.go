package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/dto"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// NFeService operaciones de emisión que expone la API. Lo implementa *billing.NFeOrchestrator.
type NFeService interface {
	Authorize(ctx context.Context, draft nfe.InvoiceDraft) nfe.AuthorizationOutcome
	Cancel(ctx context.Context, ev nfe.CancellationEvent) nfe.CancellationOutcome
	Status(ctx context.Context, uf string) (sefaz.StatusResult, error)
	Query(ctx context.Context, key string) (sefaz.ProtocolStatus, error)
	History(ctx context.Context, key string) ([]*entity.NFeOutcome, error)
}

// NFeHandler maneja las peticiones HTTP de NF-e (protegido).
type NFeHandler struct {
	svc NFeService
	log zerolog.Logger
}

// NewNFeHandler construye el handler.
func NewNFeHandler(svc NFeService, log zerolog.Logger) *NFeHandler {
	return &NFeHandler{svc: svc, log: log}
}

// Authorize godoc
// @Summary      Emitir NF-e
// @Description  Arma, firma y envía la NF-e. 201 autorizada, 202 sin resultado definitivo (consultar por clave), 422 rechazada.
// @Tags         nfe
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.AuthorizeNFeRequest  true  "borrador de la NF-e"
// @Success      201   {object}  dto.AuthorizationResponse
// @Success      202   {object}  dto.AuthorizationResponse
// @Failure      400   {object}  dto.AuthorizationResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.AuthorizationResponse
// @Failure      502   {object}  dto.AuthorizationResponse
// @Router       /api/nfe/authorize [post]
func (h *NFeHandler) Authorize(c *fiber.Ctx) error {
	var in dto.AuthorizeNFeRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido: " + err.Error()})
	}
	if !allowedCNPJ(c, in.Emitter.CNPJ) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no habilita este emisor"})
	}
	out := h.svc.Authorize(c.UserContext(), in.InvoiceDraft)
	return c.Status(authorizationStatus(out)).JSON(dto.FromAuthorization(out))
}

// Cancel godoc
// @Summary      Cancelar NF-e
// @Tags         nfe
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CancelNFeRequest  true  "clave, protocolo y justificación (15 a 255 caracteres)"
// @Success      200   {object}  dto.CancellationResponse
// @Failure      400   {object}  dto.CancellationResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.CancellationResponse
// @Router       /api/nfe/cancel [post]
func (h *NFeHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelNFeRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	ev, err := in.ToEvent()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	if !allowedCNPJ(c, keyCNPJ(ev.AccessKey)) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no habilita este emisor"})
	}
	out := h.svc.Cancel(c.UserContext(), ev)
	return c.Status(cancellationStatus(out)).JSON(dto.FromCancellation(out))
}

// Status godoc
// @Summary      Estado del servicio de la SEFAZ
// @Tags         nfe
// @Security     Bearer
// @Produce      json
// @Param        uf  query  string  false  "UF del autorizador (por defecto la configurada)"
// @Success      200  {object}  sefaz.StatusResult
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /api/nfe/status [get]
func (h *NFeHandler) Status(c *fiber.Ctx) error {
	st, err := h.svc.Status(c.UserContext(), c.Query("uf"))
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(st)
}

// Query godoc
// @Summary      Consultar NF-e por clave
// @Description  Forma de resolver un resultado TIMED_OUT sin reenviar.
// @Tags         nfe
// @Security     Bearer
// @Produce      json
// @Param        chave  path  string  true  "clave de acceso (44 dígitos)"
// @Success      200  {object}  sefaz.ProtocolStatus
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /api/nfe/{chave} [get]
func (h *NFeHandler) Query(c *fiber.Ctx) error {
	key := pkgnfe.OnlyDigits(c.Params("chave"))
	if !allowedCNPJ(c, keyCNPJ(key)) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no habilita este emisor"})
	}
	st, err := h.svc.Query(c.UserContext(), key)
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(st)
}

// History godoc
// @Summary      Historial de resultados de una NF-e
// @Tags         nfe
// @Security     Bearer
// @Produce      json
// @Param        chave  path  string  true  "clave de acceso (44 dígitos)"
// @Success      200  {object}  dto.HistoryResponse
// @Router       /api/nfe/{chave}/history [get]
func (h *NFeHandler) History(c *fiber.Ctx) error {
	key := pkgnfe.OnlyDigits(c.Params("chave"))
	if err := pkgnfe.ValidateAccessKey(key); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	if !allowedCNPJ(c, keyCNPJ(key)) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no habilita este emisor"})
	}
	list, err := h.svc.History(c.UserContext(), key)
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(dto.FromHistory(key, list))
}

// ── mapeo de resultados ───────────────────────────────────────────────────────

func authorizationStatus(o nfe.AuthorizationOutcome) int {
	switch o.Status {
	case nfe.OutcomeAuthorized:
		return fiber.StatusCreated
	case nfe.OutcomeTimedOut:
		return fiber.StatusAccepted
	case nfe.OutcomeRejected:
		return fiber.StatusUnprocessableEntity
	default:
		return statusForError(o.Err())
	}
}

func cancellationStatus(o nfe.CancellationOutcome) int {
	switch o.Status {
	case nfe.OutcomeCancelled:
		return fiber.StatusOK
	case nfe.OutcomeRejected:
		return fiber.StatusUnprocessableEntity
	default:
		return statusForError(o.Err())
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, nfe.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, nfe.ErrRemoteRejection):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, nfe.ErrRemoteTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, nfe.ErrTransport):
		return fiber.StatusBadGateway
	default:
		// certificado, firma y fallas desconocidas
		return fiber.StatusInternalServerError
	}
}

func (h *NFeHandler) errorJSON(c *fiber.Ctx, err error) error {
	kind := nfe.KindOf(err)
	status := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error().Err(err).Str("kind", kind).Str("path", c.Path()).Msg("nfe: error en consulta")
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: kind, Message: err.Error()})
}

// allowedCNPJ un token sin CNPJ habilita cualquier emisor.
func allowedCNPJ(c *fiber.Ctx, cnpj string) bool {
	scope := GetCNPJ(c)
	return scope == "" || pkgnfe.OnlyDigits(scope) == pkgnfe.OnlyDigits(cnpj)
}

// keyCNPJ CNPJ del emisor dentro de la clave de acceso (posiciones 7 a 20).
func keyCNPJ(key string) string {
	if len(key) < 20 {
		return ""
	}
	return key[6:20]
}
