package sefaz

import (
	"fmt"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// Service web service de la SEFAZ (versión 4.00).
type Service string

const (
	ServiceAuthorization Service = "NFeAutorizacao4"
	ServiceReceipt       Service = "NFeRetAutorizacao4"
	ServiceStatus        Service = "NFeStatusServico4"
	ServiceEvent         Service = "NFeRecepcaoEvento4"
	ServiceProtocol      Service = "NFeConsultaProtocolo4"
)

// Operation nombre de la operación SOAP del servicio.
func (s Service) Operation() string {
	switch s {
	case ServiceAuthorization:
		return "nfeAutorizacaoLote"
	case ServiceReceipt:
		return "nfeRetAutorizacaoLote"
	case ServiceStatus:
		return "nfeStatusServicoNF"
	case ServiceEvent:
		return "nfeRecepcaoEvento"
	case ServiceProtocol:
		return "nfeConsultaNF"
	}
	return ""
}

// Idempotent indica si repetir la llamada no tiene efectos en la SEFAZ (consultas).
// Envío de lote y de eventos no lo son.
func (s Service) Idempotent() bool {
	switch s {
	case ServiceReceipt, ServiceStatus, ServiceProtocol:
		return true
	}
	return false
}

// Namespace del elemento nfeDadosMsg / nfeResultMsg.
func (s Service) Namespace() string {
	return "http://www.portalfiscal.inf.br/nfe/wsdl/" + string(s)
}

// Services todos los servicios usados por el emisor.
var Services = []Service{ServiceAuthorization, ServiceReceipt, ServiceStatus, ServiceEvent, ServiceProtocol}

type envURLs struct {
	production   map[Service]string
	homologation map[Service]string
}

// Autorizadores conocidos. Las UF sin autorizador propio en la tabla usan SVRS.
var authorizers = map[string]envURLs{
	"SP": {
		production: map[Service]string{
			ServiceAuthorization: "https://nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx",
			ServiceReceipt:       "https://nfe.fazenda.sp.gov.br/ws/nferetautorizacao4.asmx",
			ServiceStatus:        "https://nfe.fazenda.sp.gov.br/ws/nfestatusservico4.asmx",
			ServiceEvent:         "https://nfe.fazenda.sp.gov.br/ws/nferecepcaoevento4.asmx",
			ServiceProtocol:      "https://nfe.fazenda.sp.gov.br/ws/nfeconsultaprotocolo4.asmx",
		},
		homologation: map[Service]string{
			ServiceAuthorization: "https://homologacao.nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx",
			ServiceReceipt:       "https://homologacao.nfe.fazenda.sp.gov.br/ws/nferetautorizacao4.asmx",
			ServiceStatus:        "https://homologacao.nfe.fazenda.sp.gov.br/ws/nfestatusservico4.asmx",
			ServiceEvent:         "https://homologacao.nfe.fazenda.sp.gov.br/ws/nferecepcaoevento4.asmx",
			ServiceProtocol:      "https://homologacao.nfe.fazenda.sp.gov.br/ws/nfeconsultaprotocolo4.asmx",
		},
	},
	"SVRS": {
		production: map[Service]string{
			ServiceAuthorization: "https://nfe.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
			ServiceReceipt:       "https://nfe.svrs.rs.gov.br/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
			ServiceStatus:        "https://nfe.svrs.rs.gov.br/ws/NfeStatusServico/NfeStatusServico4.asmx",
			ServiceEvent:         "https://nfe.svrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
			ServiceProtocol:      "https://nfe.svrs.rs.gov.br/ws/NfeConsulta/NfeConsulta4.asmx",
		},
		homologation: map[Service]string{
			ServiceAuthorization: "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
			ServiceReceipt:       "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
			ServiceStatus:        "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeStatusServico/NfeStatusServico4.asmx",
			ServiceEvent:         "https://nfe-homologacao.svrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
			ServiceProtocol:      "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeConsulta/NfeConsulta4.asmx",
		},
	},
}

// Endpoints resuelve la URL de cada servicio por UF y ambiente. Overrides tiene prioridad
// (NFE_URL_<SERVICIO> en la configuración).
type Endpoints struct {
	Overrides map[Service]string
}

// URL devuelve el endpoint del servicio.
func (e Endpoints) URL(svc Service, env nfe.Environment, uf string) (string, error) {
	if u := e.Overrides[svc]; u != "" {
		return u, nil
	}
	a, ok := authorizers[uf]
	if !ok {
		a = authorizers["SVRS"]
	}
	table := a.homologation
	if env.IsProduction() {
		table = a.production
	}
	u, ok := table[svc]
	if !ok {
		return "", fmt.Errorf("sefaz: sin endpoint para %s en %s/%s", svc, uf, env)
	}
	return u, nil
}
