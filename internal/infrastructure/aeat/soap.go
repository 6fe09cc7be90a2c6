// Package aeat implementa el transporte SOAP 1.1 con certificado de cliente
// hacia los servicios SII y VNif de la AEAT.
package aeat

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/n1ngu/sii/internal/application/ports"
	"github.com/n1ngu/sii/internal/domain/sii"
)

// Entornos y direcciones base de la AEAT.
const (
	EnvTest = "test"
	EnvProd = "prod"

	BaseURLTest = "https://prewww1.aeat.es"
	BaseURLProd = "https://www1.agenciatributaria.gob.es"

	defaultTimeout = 60 * time.Second
	maxReplySize   = 16 << 20 // un lote VNifV2 de 10 000 supera 1 MB
)

var (
	// ErrUnknownOperation la operación no tiene binding SOAP.
	ErrUnknownOperation = errors.New("aeat: operación desconocida")
	// ErrUnknownEnv entorno distinto de test/prod.
	ErrUnknownEnv = errors.New("aeat: entorno desconocido")
)

// BaseURL dirección base del entorno. override (proxy o intermediario) tiene prioridad.
func BaseURL(env, override string) (string, error) {
	if override != "" {
		return strings.TrimRight(override, "/"), nil
	}
	switch env {
	case EnvTest:
		return BaseURLTest, nil
	case EnvProd:
		return BaseURLProd, nil
	default:
		return "", fmt.Errorf("%w: %q (usar 'test' o 'prod')", ErrUnknownEnv, env)
	}
}

// Config parámetros del transporte.
type Config struct {
	BaseURL     string
	Certificate tls.Certificate
	Timeout     time.Duration
	// HTTPClient sustituye al cliente construido con Certificate (tests).
	HTTPClient *http.Client
}

// Connector implementa ports.Connector sobre HTTP con certificado de cliente.
type Connector struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewConnector construye el conector. El certificado se presenta en cada conexión TLS.
func NewConnector(cfg Config, log zerolog.Logger) *Connector {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if len(cfg.Certificate.Certificate) > 0 {
			tlsCfg.Certificates = []tls.Certificate{cfg.Certificate}
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
		}
	}
	return &Connector{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
		log:        log,
	}
}

// Connect prepara la conexión con el endpoint. No hace ninguna llamada remota.
func (c *Connector) Connect(_ context.Context, ep ports.Endpoint) (ports.Conn, error) {
	b, err := bindingFor(ep.Operation)
	if err != nil {
		return nil, err
	}
	return &conn{
		url:        c.baseURL + ep.Path,
		endpoint:   ep,
		binding:    b,
		httpClient: c.httpClient,
		log:        c.log.With().Str("port", ep.Port).Logger(),
	}, nil
}

type conn struct {
	url        string
	endpoint   ports.Endpoint
	binding    binding
	httpClient *http.Client
	log        zerolog.Logger
}

// Invoke serializa body, lo envía y decodifica la respuesta de la operación.
func (c *conn) Invoke(ctx context.Context, operation string, body sii.Mapping) (sii.Mapping, error) {
	if operation != c.endpoint.Operation {
		return nil, fmt.Errorf("%w: %s en el puerto %s", ErrUnknownOperation, operation, c.endpoint.Port)
	}
	payload, err := c.binding.envelope(body).WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("aeat: serializar sobre: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("aeat: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `""`)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportFault(operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, transportFault(operation, fmt.Errorf("leer respuesta: %w", err))
	}
	c.log.Debug().Str("operation", operation).Int("status", resp.StatusCode).Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).Msg("respuesta AEAT")
	return parseReply(operation, resp.StatusCode, raw)
}

// parseReply extrae el contenido de la respuesta o el SOAP Fault.
func parseReply(operation string, status int, raw []byte) (sii.Mapping, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil || doc.Root() == nil {
		return nil, &RemoteFault{Operation: operation, StatusCode: status, Message: snippet(raw)}
	}
	body := child(doc.Root(), "Body")
	if body == nil {
		return nil, &RemoteFault{Operation: operation, StatusCode: status, Message: "respuesta sin soapenv:Body"}
	}
	if fault := child(body, "Fault"); fault != nil {
		return nil, newSOAPFault(operation, status, childText(fault, "faultcode"), childText(fault, "faultstring"))
	}
	if status != http.StatusOK {
		return nil, &RemoteFault{Operation: operation, StatusCode: status, Message: snippet(raw)}
	}
	elems := body.ChildElements()
	if len(elems) == 0 {
		return nil, &RemoteFault{Operation: operation, StatusCode: status, Message: "respuesta vacía"}
	}
	return decode(elems[0]), nil
}

func child(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func childText(el *etree.Element, tag string) string {
	if c := child(el, tag); c != nil {
		return c.Text()
	}
	return ""
}

func snippet(raw []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
