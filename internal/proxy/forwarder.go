// Package proxy relays application API calls to the extension backend.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kamiwaza-ai/appgarden/internal/auth"
)

const copyBufferSize = 32 * 1024

// Preflight response headers
const (
	AllowOrigin  = "*"
	AllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	AllowHeaders = "Content-Type, Authorization"
	MaxAge       = "86400"
)

// Options configures a Forwarder
type Options struct {
	// Transport defaults to a clone of http.DefaultTransport
	Transport http.RoundTripper

	// Service names the backend in 502 bodies
	Service string

	Logger zerolog.Logger
}

// Forwarder relays requests to a backend origin. Every request is a fresh
// round trip: nothing is cached, redirects are passed back to the caller and
// bodies are streamed in both directions.
type Forwarder struct {
	target   *url.URL
	basePath string
	service  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewForwarder creates a forwarder for backendURL. basePath is stripped from
// inbound paths before they are appended to the backend URL.
func NewForwarder(backendURL, basePath string, opts Options) (*Forwarder, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", backendURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme and host are required", backendURL)
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		// Accept-Encoding is relayed as sent; never decode on the caller's behalf
		t.DisableCompression = true
		transport = t
	}

	service := opts.Service
	if service == "" {
		service = "backend"
	}

	return &Forwarder{
		target:   target,
		basePath: strings.TrimRight(basePath, "/"),
		service:  service,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: opts.Logger,
	}, nil
}

// Handler adapts the forwarder for gin routes
func (f *Forwarder) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		WritePreflight(w)
		return
	}

	rc := http.NewResponseController(w)

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
		// Read the request body while the response is being written
		if err := rc.EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			f.logger.Debug().Err(err).Msg("Failed to enable full duplex")
		}
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, f.TargetURL(r.URL), body)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	outReq.ContentLength = r.ContentLength
	if body == nil {
		outReq.ContentLength = 0
	}
	copyHeaders(outReq.Header, r.Header)

	resp, err := f.client.Do(outReq)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if err := stream(w, rc, resp.Body); err != nil {
		f.logger.Warn().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Proxied response interrupted")
	}
}

// TargetURL maps an inbound URL onto the backend, dropping the base path and
// keeping the raw query
func (f *Forwarder) TargetURL(in *url.URL) string {
	path := in.Path
	if f.basePath != "" && (path == f.basePath || strings.HasPrefix(path, f.basePath+"/")) {
		path = strings.TrimPrefix(path, f.basePath)
	}

	out := *f.target
	out.Path = strings.TrimRight(f.target.Path, "/") + "/" + strings.TrimLeft(path, "/")
	out.RawPath = ""
	out.RawQuery = in.RawQuery
	out.Fragment = ""
	return out.String()
}

func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, err error) {
	f.logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("service", f.service).
		Msg("Failed to reach backend")

	writeJSON(w, http.StatusBadGateway, auth.UpstreamUnavailable("Failed to reach "+f.service, f.service))
}

// stream copies src to w, flushing after every chunk so event streams and
// chunked responses reach the client as they are produced
func stream(w io.Writer, rc *http.ResponseController, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// WritePreflight answers a CORS preflight without contacting the backend
func WritePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", AllowOrigin)
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
	h.Set("Access-Control-Max-Age", MaxAge)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
