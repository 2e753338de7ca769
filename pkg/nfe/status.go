package nfe

import (
	"fmt"
	"strconv"
	"strings"
)

// Códigos de situación (cStat) usados por el emisor.
const (
	StatusAuthorized          = 100
	StatusCancelled           = 101
	StatusServiceOperational  = 107
	StatusServicePaused       = 108
	StatusServiceStopped      = 109
	StatusDenied              = 110
	StatusBatchReceived       = 103
	StatusBatchProcessed      = 104
	StatusBatchInProcessing   = 105
	StatusBatchNotFound       = 106
	StatusAuthorizedLate      = 150
	StatusEventRegistered     = 135
	StatusEventRegisteredLate = 155
	StatusCancelledLate       = 151
	StatusDuplicate           = 204
	StatusDuplicateKeyDiff    = 539
	StatusSignatureFailure    = 215
	StatusNotFound            = 217
	StatusAlreadyCancelled    = 218
	StatusUndueConsumption    = 656
)

// StatusKind clasificación de un cStat.
type StatusKind int

const (
	StatusKindUnknown StatusKind = iota
	StatusKindSuccess
	StatusKindPending
	StatusKindRejection
	StatusKindDenied
	StatusKindUnavailable
)

func (k StatusKind) String() string {
	switch k {
	case StatusKindSuccess:
		return "success"
	case StatusKindPending:
		return "pending"
	case StatusKindRejection:
		return "rejection"
	case StatusKindDenied:
		return "denied"
	case StatusKindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// StatusInfo descripción de un código de la SEFAZ.
type StatusInfo struct {
	Code        int
	Description string
	Kind        StatusKind
	UserMessage string
}

var statusCatalogue = map[int]StatusInfo{
	100: {Description: "Autorizado o uso da NF-e", Kind: StatusKindSuccess,
		UserMessage: "NF-e autorizada con éxito"},
	101: {Description: "Cancelamento de NF-e homologado", Kind: StatusKindSuccess,
		UserMessage: "NF-e cancelada con éxito"},
	102: {Description: "Inutilização de número homologado", Kind: StatusKindSuccess,
		UserMessage: "Numeración inutilizada con éxito"},
	103: {Description: "Lote recebido com sucesso", Kind: StatusKindPending,
		UserMessage: "Lote recibido, en espera de procesamiento"},
	104: {Description: "Lote processado", Kind: StatusKindPending,
		UserMessage: "Lote procesado, consulte el protocolo de cada NF-e"},
	105: {Description: "Lote em processamento", Kind: StatusKindPending,
		UserMessage: "Lote en procesamiento, intente nuevamente en unos segundos"},
	106: {Description: "Lote não localizado", Kind: StatusKindRejection,
		UserMessage: "El recibo consultado no existe en la SEFAZ"},
	107: {Description: "Serviço em Operação", Kind: StatusKindSuccess,
		UserMessage: "Servicio de la SEFAZ en operación"},
	108: {Description: "Serviço Paralisado Momentaneamente", Kind: StatusKindUnavailable,
		UserMessage: "Servicio de la SEFAZ paralizado momentáneamente"},
	109: {Description: "Serviço Paralisado sem Previsão", Kind: StatusKindUnavailable,
		UserMessage: "Servicio de la SEFAZ paralizado sin previsión; evalúe contingencia"},
	110: {Description: "Uso Denegado", Kind: StatusKindDenied,
		UserMessage: "Uso denegado: la numeración queda bloqueada"},
	135: {Description: "Evento registrado e vinculado a NF-e", Kind: StatusKindSuccess,
		UserMessage: "Evento registrado con éxito"},
	150: {Description: "Autorizado o uso da NF-e, autorização concedida fora de prazo", Kind: StatusKindSuccess,
		UserMessage: "NF-e autorizada fuera de plazo"},
	151: {Description: "Cancelamento de NF-e homologado fora de prazo", Kind: StatusKindSuccess,
		UserMessage: "NF-e cancelada fuera de plazo"},
	155: {Description: "Cancelamento homologado fora de prazo", Kind: StatusKindSuccess,
		UserMessage: "Cancelación registrada fuera de plazo"},
	204: {Description: "Duplicidade de NF-e", Kind: StatusKindRejection,
		UserMessage: "Ya existe una NF-e con esta clave de acceso"},
	205: {Description: "NF-e está denegada na base de dados da SEFAZ", Kind: StatusKindRejection,
		UserMessage: "La NF-e fue denegada anteriormente"},
	206: {Description: "NF-e já está inutilizada na Base de dados da SEFAZ", Kind: StatusKindRejection,
		UserMessage: "El número de la NF-e ya fue inutilizado"},
	207: {Description: "CNPJ do emitente inválido", Kind: StatusKindRejection,
		UserMessage: "Verifique el CNPJ del emisor"},
	208: {Description: "CNPJ do destinatário inválido", Kind: StatusKindRejection,
		UserMessage: "Verifique el CNPJ del destinatario"},
	209: {Description: "IE do emitente inválida", Kind: StatusKindRejection,
		UserMessage: "Verifique la inscripción estatal del emisor"},
	210: {Description: "IE do destinatário inválida", Kind: StatusKindRejection,
		UserMessage: "Verifique la inscripción estatal del destinatario"},
	213: {Description: "CNPJ-Base do Emitente difere do CNPJ-Base do Certificado Digital", Kind: StatusKindRejection,
		UserMessage: "El certificado digital no corresponde al emisor"},
	214: {Description: "Tamanho da mensagem excedeu o limite estabelecido", Kind: StatusKindRejection,
		UserMessage: "El lote excede el tamaño máximo permitido"},
	215: {Description: "Falha no schema XML", Kind: StatusKindRejection,
		UserMessage: "El XML no cumple el schema publicado"},
	217: {Description: "NF-e não consta na base de dados da SEFAZ", Kind: StatusKindRejection,
		UserMessage: "La NF-e no existe en la SEFAZ"},
	218: {Description: "NF-e já está cancelada na base de dados da SEFAZ", Kind: StatusKindRejection,
		UserMessage: "La NF-e ya fue cancelada"},
	225: {Description: "Falha no Schema XML da NFe", Kind: StatusKindRejection,
		UserMessage: "El XML de la NF-e no cumple el schema publicado"},
	297: {Description: "Assinatura difere do calculado", Kind: StatusKindRejection,
		UserMessage: "La firma digital no corresponde al contenido"},
	301: {Description: "Uso Denegado: Irregularidade fiscal do emitente", Kind: StatusKindDenied,
		UserMessage: "Uso denegado por irregularidad fiscal del emisor"},
	302: {Description: "Uso Denegado: Irregularidade fiscal do destinatário", Kind: StatusKindDenied,
		UserMessage: "Uso denegado por irregularidad fiscal del destinatario"},
	303: {Description: "Uso Denegado: Destinatário não habilitado a operar na UF", Kind: StatusKindDenied,
		UserMessage: "Uso denegado: destinatario no habilitado en la UF"},
	404: {Description: "Uso de prefixo de namespace não permitido", Kind: StatusKindRejection,
		UserMessage: "El XML usa prefijos de namespace no permitidos"},
	501: {Description: "Pedido de Cancelamento intempestivo", Kind: StatusKindRejection,
		UserMessage: "Plazo de cancelación vencido"},
	539: {Description: "Duplicidade de NF-e com diferença na Chave de Acesso", Kind: StatusKindRejection,
		UserMessage: "Ya existe una NF-e con el mismo número y otra clave"},
	573: {Description: "Duplicidade de Evento", Kind: StatusKindRejection,
		UserMessage: "El evento ya fue registrado"},
	656: {Description: "Consumo Indevido", Kind: StatusKindUnavailable,
		UserMessage: "Consultas demasiado frecuentes; espere antes de reintentar"},
	999: {Description: "Erro não catalogado", Kind: StatusKindRejection,
		UserMessage: "Error no catalogado de la SEFAZ"},
}

// DescribeStatus devuelve la información del código; códigos no catalogados se
// clasifican como rechazo.
func DescribeStatus(code int) StatusInfo {
	info, ok := statusCatalogue[code]
	if !ok {
		return StatusInfo{
			Code:        code,
			Description: fmt.Sprintf("Código desconocido: %d", code),
			Kind:        StatusKindRejection,
			UserMessage: "Rechazo de la SEFAZ",
		}
	}
	info.Code = code
	return info
}

// IsAuthorizedStatus indica si el cStat de un protNFe autoriza el uso de la NF-e.
func IsAuthorizedStatus(code int) bool {
	return code == StatusAuthorized || code == StatusAuthorizedLate
}

// IsCancellationRegistered indica si el cStat de un retEvento registra la cancelación.
func IsCancellationRegistered(code int) bool {
	return code == StatusEventRegistered || code == StatusEventRegisteredLate
}

// IsPollPending indica si el cStat de una consulta de recibo no es definitivo
// (lote en procesamiento o servicio momentáneamente indisponible).
func IsPollPending(code int) bool {
	switch code {
	case StatusBatchInProcessing, StatusServicePaused, StatusServiceStopped, StatusUndueConsumption:
		return true
	}
	return false
}

// IsDuplicate indica que la SEFAZ ya tiene una NF-e con ese número o clave (204, 539).
func IsDuplicate(code int) bool {
	return code == StatusDuplicate || code == StatusDuplicateKeyDiff
}

// ParseStatus normaliza un cStat textual a entero ("0100" == "100").
func ParseStatus(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("nfe: cStat vacío")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("nfe: cStat no numérico %q", raw)
	}
	return n, nil
}
