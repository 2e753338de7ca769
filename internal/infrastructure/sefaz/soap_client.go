package sefaz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

const (
	soap12NS = "http://www.w3.org/2003/05/soap-envelope"

	maxResponseBytes = 1 << 20 // 1 MB
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// Call una llamada a un web service de la SEFAZ. Body es el mensaje (enviNFe,
// consReciNFe, envEvento...) que va dentro de nfeDadosMsg.
type Call struct {
	Service     Service
	Environment nfe.Environment
	UF          string
	Identity    tls.Certificate // certificado del emisor para TLS mutuo
	Body        []byte
}

// Transport puerto de salida hacia la SEFAZ. Devuelve el contenido de nfeResultMsg.
// Las fallas de red se devuelven como *nfe.TransportError.
type Transport interface {
	Call(ctx context.Context, call Call) ([]byte, error)
}

// Observer recibe la duración y el resultado de cada llamada (métricas).
type Observer interface {
	ObserveCall(service string, outcome string, elapsed time.Duration)
}

// ── Implementación SOAP 1.2 ───────────────────────────────────────────────────

// SOAPClient implementa Transport con SOAP 1.2 sobre HTTPS y certificado de cliente.
// Mantiene un http.Client por certificado; es seguro para uso concurrente.
type SOAPClient struct {
	endpoints Endpoints
	timeout   time.Duration
	tlsBase   *tls.Config
	observer  Observer
	log       zerolog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// SOAPOption configura el SOAPClient.
type SOAPOption func(*SOAPClient)

func WithTimeout(d time.Duration) SOAPOption { return func(c *SOAPClient) { c.timeout = d } }
func WithObserver(o Observer) SOAPOption     { return func(c *SOAPClient) { c.observer = o } }
func WithSOAPLogger(l zerolog.Logger) SOAPOption {
	return func(c *SOAPClient) { c.log = l }
}

// WithTLSConfig base de la configuración TLS (CAs propias, InsecureSkipVerify en pruebas).
// El certificado de cliente se agrega por llamada.
func WithTLSConfig(cfg *tls.Config) SOAPOption {
	return func(c *SOAPClient) { c.tlsBase = cfg }
}

// NewSOAPClient construye el cliente. El timeout por defecto es generoso (30 s)
// porque algunos autorizadores tardan varios segundos en responder.
func NewSOAPClient(endpoints Endpoints, opts ...SOAPOption) *SOAPClient {
	c := &SOAPClient{
		endpoints: endpoints,
		timeout:   30 * time.Second,
		log:       zerolog.Nop(),
		clients:   make(map[string]*http.Client),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	Result *struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"nfeResultMsg"`
	Fault *soapFault `xml:"Fault"`
}

// soapFault cubre SOAP 1.2 (Code/Reason) y 1.1 (faultcode/faultstring).
type soapFault struct {
	Code        string `xml:"Code>Value"`
	Reason      string `xml:"Reason>Text"`
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

func (f *soapFault) String() string {
	if f.Reason != "" {
		return fmt.Sprintf("[%s] %s", f.Code, f.Reason)
	}
	return fmt.Sprintf("[%s] %s", f.FaultCode, f.FaultString)
}

// ── Call ──────────────────────────────────────────────────────────────────────

// Call envía el mensaje al servicio y devuelve el XML de respuesta (retEnviNFe, retConsReciNFe...).
func (c *SOAPClient) Call(ctx context.Context, call Call) ([]byte, error) {
	start := time.Now()
	out, err := c.do(ctx, call)
	if c.observer != nil {
		c.observer.ObserveCall(string(call.Service), nfe.KindOf(err), time.Since(start))
	}
	return out, err
}

func (c *SOAPClient) do(ctx context.Context, call Call) ([]byte, error) {
	op := call.Service.Operation()
	url, err := c.endpoints.URL(call.Service, call.Environment, call.UF)
	if err != nil {
		return nil, &nfe.TransportError{Op: op, Cause: err}
	}

	payload := buildEnvelope(call.Service, call.Body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &nfe.TransportError{Op: op, Cause: fmt.Errorf("crear request: %w", err)}
	}
	req.Header.Set("Content-Type",
		fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s/%s"`, call.Service.Namespace(), op))

	client, err := c.clientFor(call.Identity)
	if err != nil {
		return nil, &nfe.TransportError{Op: op, Cause: err}
	}

	c.log.Debug().Str("service", string(call.Service)).Str("url", url).Msg("sefaz: enviando")
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &nfe.TransportError{Op: op, Cause: fmt.Errorf("timeout o cancelación: %w", ctx.Err())}
		}
		return nil, &nfe.TransportError{Op: op, Retryable: call.Service.Idempotent() && transient(err), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &nfe.TransportError{Op: op, Retryable: call.Service.Idempotent(), Cause: fmt.Errorf("leer respuesta: %w", err)}
	}

	var env soapResponseEnvelope
	parseErr := xml.Unmarshal(raw, &env)
	if parseErr == nil && env.Body.Fault != nil {
		return nil, &nfe.TransportError{
			Op:         op,
			HTTPStatus: resp.StatusCode,
			Retryable:  call.Service.Idempotent() && resp.StatusCode >= 500,
			Cause:      fmt.Errorf("SOAP Fault %s", env.Body.Fault),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &nfe.TransportError{
			Op:         op,
			HTTPStatus: resp.StatusCode,
			Retryable:  call.Service.Idempotent() && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests),
			Cause:      fmt.Errorf("respuesta HTTP inesperada: %s", truncate(raw, 256)),
		}
	}
	if parseErr != nil || env.Body.Result == nil {
		return nil, &nfe.TransportError{Op: op, HTTPStatus: resp.StatusCode,
			Cause: fmt.Errorf("respuesta SOAP vacía o inesperada: %s", truncate(raw, 256))}
	}
	return env.Body.Result.Inner, nil
}

// buildEnvelope arma el sobre SOAP 1.2. El mensaje ya firmado se inserta tal cual.
func buildEnvelope(svc Service, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap12="` + soap12NS + `">`)
	b.WriteString(`<soap12:Body><nfeDadosMsg xmlns="` + svc.Namespace() + `">`)
	b.Write(stripDeclaration(body))
	b.WriteString(`</nfeDadosMsg></soap12:Body></soap12:Envelope>`)
	return b.Bytes()
}

// clientFor devuelve el http.Client asociado al certificado (uno por huella).
func (c *SOAPClient) clientFor(id tls.Certificate) (*http.Client, error) {
	if len(id.Certificate) == 0 {
		return nil, fmt.Errorf("certificado de cliente ausente")
	}
	sum := sha256.Sum256(id.Certificate[0])
	fp := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[fp]; ok {
		return cl, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.tlsBase != nil {
		cfg = c.tlsBase.Clone()
	}
	cfg.Certificates = []tls.Certificate{id}
	cfg.Renegotiation = tls.RenegotiateOnceAsClient

	cl := &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     cfg,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	c.clients[fp] = cl
	return cl, nil
}

// transient errores de red que vale la pena reintentar.
func transient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Transport = (*SOAPClient)(nil)
