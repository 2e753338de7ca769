package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operaciones registradas en el diario de resultados.
const (
	OperationAuthorize = "AUTHORIZE"
	OperationCancel    = "CANCEL"
	OperationQuery     = "QUERY"
)

// NFeOutcome registro de un resultado devuelto por la SEFAZ (o de la falla local que lo
// impidió). Las NF-e en TIMED_OUT se vuelven a consultar por clave a partir de estos registros.
type NFeOutcome struct {
	ID            string
	CorrelationID string
	Operation     string
	AccessKey     string
	Environment   string
	UF            string
	Status        string // AUTHORIZED|REJECTED|TIMED_OUT|CANCELLED|FAILED
	Stage         string
	StatusCode    int
	Reason        string
	Protocol      string
	Receipt       string
	Attempts      int
	ErrorKind     string
	Total         decimal.NullDecimal // vNF; sólo en autorizaciones que llegaron a armar el XML
	XML           []byte              // nfeProc o procEventoNFe cuando corresponde
	CreatedAt     time.Time
}

// Pending indica que el resultado no es definitivo y debe consultarse por clave.
func (o *NFeOutcome) Pending() bool { return o.Status == "TIMED_OUT" }
