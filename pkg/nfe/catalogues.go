// Package nfe contiene catálogos, la clave de acceso y utilidades alineadas al
// Manual de Orientação do Contribuinte (MOC) de la NF-e 4.00 (Brasil).
package nfe

// Versión del layout de la NF-e y de los eventos.
const (
	LayoutVersion = "4.00"
	EventVersion  = "1.00"

	// Namespace del portal fiscal, usado como namespace por defecto en todos los mensajes.
	NamespaceNFe = "http://www.portalfiscal.inf.br/nfe"
)

// =============================================================================
// Modelo, tipo de emisión y ambiente (MOC 4.00 - grupo B)
// =============================================================================

const (
	ModelNFe  = "55" // NF-e
	ModelNFCe = "65" // NFC-e (no soportada por este emisor)

	EmissionNormal = "1" // tpEmis: emisión normal

	EnvironmentProduction   = "1" // tpAmb: producción
	EnvironmentHomologation = "2" // tpAmb: homologación (pruebas)
)

// Finalidad de emisión (finNFe).
const (
	PurposeNormal        = "1"
	PurposeComplementary = "2"
	PurposeAdjustment    = "3"
	PurposeReturn        = "4"
)

// ValidPurposes finalidades aceptadas.
var ValidPurposes = map[string]bool{
	PurposeNormal: true, PurposeComplementary: true, PurposeAdjustment: true, PurposeReturn: true,
}

// Destino de la operación (idDest).
const (
	DestinationInternal   = "1"
	DestinationInterstate = "2"
	DestinationExterior   = "3"
)

// Tipo de operación (tpNF).
const (
	OperationInbound  = "0"
	OperationOutbound = "1"
)

// Indicador de presencia del comprador (indPres).
var ValidPresenceIndicators = map[string]bool{
	"0": true, "1": true, "2": true, "3": true, "4": true, "5": true, "9": true,
}

// Indicador de IE del destinatario (indIEDest).
const (
	RecipientIEContributor = "1"
	RecipientIEExempt      = "2"
	RecipientIENone        = "9"
)

// ForeignUF es la sigla usada para destinatarios en el exterior.
const ForeignUF = "EX"

// CountryBrazil código BACEN de Brasil.
const CountryBrazil = "1058"

// =============================================================================
// Código de Régimen Tributario (CRT)
// =============================================================================

const (
	CRTSimplesNacional         = "1"
	CRTSimplesExcessoSublimite = "2"
	CRTRegimeNormal            = "3"
)

// =============================================================================
// Tabla CSOSN - Código de Situação da Operação no Simples Nacional
// =============================================================================

const (
	CSOSNTributadaComCredito    = "101"
	CSOSNTributadaSemCredito    = "102"
	CSOSNIsencaoFaixaReceita    = "103"
	CSOSNComCreditoST           = "201"
	CSOSNSemCreditoST           = "202"
	CSOSNIsencaoFaixaReceitaST  = "203"
	CSOSNImune                  = "300"
	CSOSNNaoTributada           = "400"
	CSOSNCobradoAnteriormenteST = "500"
	CSOSNOutros                 = "900"
)

// ValidCSOSN códigos CSOSN aceptados.
var ValidCSOSN = map[string]bool{
	CSOSNTributadaComCredito: true, CSOSNTributadaSemCredito: true, CSOSNIsencaoFaixaReceita: true,
	CSOSNComCreditoST: true, CSOSNSemCreditoST: true, CSOSNIsencaoFaixaReceitaST: true,
	CSOSNImune: true, CSOSNNaoTributada: true, CSOSNCobradoAnteriormenteST: true, CSOSNOutros: true,
}

// CSOSNGroup devuelve el grupo XML (ICMSSNxxx) donde se declara el CSOSN.
func CSOSNGroup(csosn string) string {
	switch csosn {
	case CSOSNTributadaComCredito:
		return "ICMSSN101"
	case CSOSNComCreditoST:
		return "ICMSSN201"
	case CSOSNSemCreditoST, CSOSNIsencaoFaixaReceitaST:
		return "ICMSSN202"
	case CSOSNCobradoAnteriormenteST:
		return "ICMSSN500"
	case CSOSNOutros:
		return "ICMSSN900"
	default:
		return "ICMSSN102" // 102, 103, 300, 400
	}
}

// =============================================================================
// Tabla CST ICMS (régimen normal)
// =============================================================================

// ValidICMSCST códigos CST de ICMS aceptados.
var ValidICMSCST = map[string]bool{
	"00": true, "10": true, "20": true, "30": true, "40": true, "41": true,
	"50": true, "51": true, "60": true, "70": true, "90": true,
}

// ICMSExemptCST CST sin base de cálculo propia (exento, no tributado, suspendido o ST anterior).
var ICMSExemptCST = map[string]bool{
	"30": true, "40": true, "41": true, "50": true, "60": true,
}

// ICMSCSTGroup devuelve el grupo XML (ICMSxx) para el CST.
func ICMSCSTGroup(cst string) string {
	switch cst {
	case "40", "41", "50":
		return "ICMS40"
	default:
		return "ICMS" + cst
	}
}

// Modalidad de determinación de la base de cálculo del ICMS (modBC).
const (
	ICMSBaseMargin    = "0" // margen de valor agregado
	ICMSBaseTariff    = "1" // pauta
	ICMSBaseMaxPrice  = "2" // precio tabelado máximo
	ICMSBaseOperation = "3" // valor de la operación
)

// =============================================================================
// Tabla CST PIS / COFINS
// =============================================================================

// ValidPISCOFINSCST códigos CST de PIS/COFINS aceptados.
// 03 (alícuota por unidad de producto) no se soporta.
var ValidPISCOFINSCST = map[string]bool{
	"01": true, "02": true,
	"04": true, "05": true, "06": true, "07": true, "08": true, "09": true,
	"49": true, "50": true, "51": true, "52": true, "53": true, "54": true, "55": true, "56": true,
	"60": true, "61": true, "62": true, "63": true, "64": true, "65": true, "66": true, "67": true,
	"70": true, "71": true, "72": true, "73": true, "74": true, "75": true,
	"98": true, "99": true,
}

// PISCOFINSDefaultCST "outras operações".
const PISCOFINSDefaultCST = "99"

// PISCOFINSGroup devuelve el sufijo del grupo XML (Aliq, NT, Outr) para el CST.
func PISCOFINSGroup(cst string) string {
	switch cst {
	case "01", "02":
		return "Aliq"
	case "04", "05", "06", "07", "08", "09":
		return "NT"
	default:
		return "Outr"
	}
}

// =============================================================================
// Tabla CST IPI
// =============================================================================

// ValidIPICST códigos CST de IPI aceptados.
var ValidIPICST = map[string]bool{
	"00": true, "01": true, "02": true, "03": true, "04": true, "05": true,
	"49": true, "50": true, "51": true, "52": true, "53": true, "54": true, "55": true, "99": true,
}

// IPITaxedCST CST de IPI que se declaran en IPITrib (con base, alícuota y valor).
var IPITaxedCST = map[string]bool{"00": true, "49": true, "50": true, "99": true}

// IPIDefaultEnquadramento código de encuadramiento legal genérico.
const IPIDefaultEnquadramento = "999"

// =============================================================================
// Modalidad del flete (modFrete) y medios de pago (tPag)
// =============================================================================

const (
	FreightIssuer    = "0"
	FreightRecipient = "1"
	FreightThird     = "2"
	FreightNone      = "9"
)

// ValidFreightModes modalidades de flete aceptadas.
var ValidFreightModes = map[string]bool{
	"0": true, "1": true, "2": true, "3": true, "4": true, FreightNone: true,
}

const (
	PaymentCash      = "01"
	PaymentCheck     = "02"
	PaymentCredit    = "03"
	PaymentDebit     = "04"
	PaymentStoreCard = "05"
	PaymentBoleto    = "15"
	PaymentPix       = "17"
	PaymentNone      = "90"
	PaymentOther     = "99"
)

// ValidPaymentTypes medios de pago aceptados (tPag).
var ValidPaymentTypes = map[string]bool{
	"01": true, "02": true, "03": true, "04": true, "05": true, "10": true, "11": true,
	"12": true, "13": true, "15": true, "16": true, "17": true, "18": true, "19": true,
	PaymentNone: true, PaymentOther: true,
}

// =============================================================================
// Eventos
// =============================================================================

const (
	EventTypeCancellation = "110111"
	EventDescCancellation = "Cancelamento"
	EventOrgaoNacional    = "91" // Ambiente Nacional (AN)
)
