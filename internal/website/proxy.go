package website

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/electra-analytics/electra/internal/transport"
)

// maxProxyBody bounds the request body buffered so it can be replayed after a refresh.
const maxProxyBody = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// newProxy forwards /api/* to the backend API root through rt, which attaches
// the bearer. Browser cookies and credentials are not forwarded.
func newProxy(apiRoot *url.URL, rt http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, "/api")
			pr.Out.URL.RawPath = ""
			pr.SetURL(apiRoot)
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
		},
		Transport:    &replayableBody{next: rt, limit: maxProxyBody},
		ErrorHandler: proxyError,
	}
}

func proxyError(w http.ResponseWriter, r *http.Request, err error) {
	l := zerolog.Ctx(r.Context())

	switch {
	case transport.IsAuthorizationError(err):
		l.Info().Err(err).Msg("proxied request unauthorized")
		writeProblem(w, http.StatusUnauthorized, "Session expired")
	case transport.IsTransportError(err):
		l.Warn().Err(err).Msg("proxied request failed")
		writeProblem(w, http.StatusBadGateway, "Backend unavailable")
	case errors.Is(err, errBodyTooLarge):
		writeProblem(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, transport.ErrBodyNotReplayable):
		writeProblem(w, http.StatusUnauthorized, "Session refreshed, retry the request")
	default:
		l.Error().Err(err).Msg("proxy error")
		writeProblem(w, http.StatusBadGateway, "Backend unavailable")
	}
}

// replayableBody buffers inbound bodies so the transport can resend them
// once after refreshing the access token.
type replayableBody struct {
	next  http.RoundTripper
	limit int64
}

func (b *replayableBody) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return b.next.RoundTrip(req)
	}

	buf, err := io.ReadAll(io.LimitReader(req.Body, b.limit+1))
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(buf)) > b.limit {
		return nil, errBodyTooLarge
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(buf))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	out.ContentLength = int64(len(buf))
	return b.next.RoundTrip(out)
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"detail":"` + detail + `"}`))
}
