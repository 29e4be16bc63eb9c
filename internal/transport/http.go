package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-assets/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-assets/internal/version"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

type HTTPOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	// Limiter paces requests per host; nil disables pacing.
	Limiter *ratelimit.HostLimiter
	// Base is the transport wrapped by both clients; nil clones
	// http.DefaultTransport. Tests inject httptest transports here.
	Base *http.Transport
}

// HTTPFetcher fetches http(s) identifiers. It keeps two clients so the TLS
// verification toggle in Hints never mutates shared transport state.
type HTTPFetcher struct {
	secure   *http.Client
	insecure *http.Client
	limiter  *ratelimit.HostLimiter
	maxBytes int64
}

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	insecureBase := base.Clone()
	if insecureBase.TLSClientConfig == nil {
		insecureBase.TLSClientConfig = &tls.Config{}
	}
	insecureBase.TLSClientConfig.InsecureSkipVerify = true

	return &HTTPFetcher{
		secure:   &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(base)},
		insecure: &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(insecureBase)},
		limiter:  opts.Limiter,
		maxBytes: opts.MaxBytes,
	}
}

func authorization(auth string) string {
	if strings.ContainsRune(auth, ' ') {
		return auth
	}
	return "Bearer " + auth
}

func (f *HTTPFetcher) Fetch(ctx context.Context, id string, h Hints) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, http.NoBody)
	if err != nil {
		return nil, xerrors.Wrapf(err, "build request %s", id)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if h.Auth != "" {
		req.Header.Set("Authorization", authorization(h.Auth))
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, req.URL.Host); err != nil {
			return nil, err
		}
	}

	client := f.secure
	if h.InsecureSkipVerify {
		client = f.insecure
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(err, "GET %s", id)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, xerrors.Wrapf(ErrNotFound, "GET %s: %s", id, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, xerrors.Newf("GET %s: unexpected status %s", id, resp.Status)
	}
	if resp.ContentLength > 0 && f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, xerrors.Wrapf(ErrTooLarge, "GET %s: content-length %d", id, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read body %s", id)
	}
	return data, nil
}
