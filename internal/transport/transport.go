// Package transport fetches raw bytes for a canonical identifier.
//
// The Router dispatches on the identifier's scheme: s3://bucket/key goes to
// S3, http(s):// URLs go through a rate limited, traced HTTP client, and
// everything else (file:// URLs and bare paths) is read from disk.
package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// DefaultMaxBytes bounds a single fetch when no limit is configured.
const DefaultMaxBytes int64 = 64 * 1024 * 1024 // 64MB

var (
	ErrNotFound          = errors.New("transport: not found")
	ErrTooLarge          = errors.New("transport: payload exceeds size limit")
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")
)

// Hints are passed through from the caller untouched by the loader.
type Hints struct {
	// Auth is sent as the Authorization header on HTTP fetches. A value
	// without a scheme is sent as a bearer token.
	Auth string
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

type Fetcher interface {
	Fetch(ctx context.Context, id string, h Hints) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id string, h Hints) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, id string, h Hints) ([]byte, error) {
	return f(ctx, id, h)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	ObserveFetch(transport, result string, seconds float64)
}

type RouterOptions struct {
	Logger  log.Logger
	Metrics Metrics
	File    Fetcher
	HTTP    Fetcher
	S3      Fetcher
}

// Router picks a Fetcher by identifier scheme. A nil fetcher for a scheme
// makes identifiers with that scheme fail with ErrUnsupportedScheme.
type Router struct {
	logger  log.Logger
	metrics Metrics
	file    Fetcher
	http    Fetcher
	s3      Fetcher
}

func NewRouter(opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Router{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		file:    opts.File,
		http:    opts.HTTP,
		s3:      opts.S3,
	}
}

// Scheme returns the transport name used for id: "s3", "http" or "file".
func Scheme(id string) string {
	switch {
	case strings.HasPrefix(id, "s3://"):
		return "s3"
	case strings.HasPrefix(id, "http://"), strings.HasPrefix(id, "https://"):
		return "http"
	default:
		return "file"
	}
}

func (r *Router) route(scheme string) Fetcher {
	switch scheme {
	case "s3":
		return r.s3
	case "http":
		return r.http
	default:
		return r.file
	}
}

func (r *Router) Fetch(ctx context.Context, id string, h Hints) (data []byte, err error) {
	scheme := Scheme(id)
	ctx, span := otelx.Tracer("transport").Start(ctx, "transport.fetch")
	span.SetAttributes(
		attribute.String("asset.transport", scheme),
		attribute.String("asset.id", id),
	)
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int("asset.bytes", len(data)))
		otelx.End(span, err)
		if r.metrics != nil {
			r.metrics.ObserveFetch(scheme, fetchResult(err), time.Since(start).Seconds())
		}
	}()

	f := r.route(scheme)
	if f == nil {
		return nil, xerrors.Wrapf(ErrUnsupportedScheme, "fetch %s", id)
	}
	data, err = f.Fetch(ctx, id, h)
	if err != nil {
		r.logger.Debug(ctx, "fetch failed", "id", id, "transport", scheme, "error", err.Error())
		return nil, err
	}
	return data, nil
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

// readLimited reads r fully, failing with ErrTooLarge past max bytes.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, xerrors.Wrapf(ErrTooLarge, "limit %d bytes", max)
	}
	return data, nil
}
