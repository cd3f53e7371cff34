package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const maxProxyResponse = 1 << 20

// Proxy forwards verification requests this instance cannot resolve to
// an upstream instance.
type Proxy struct {
	client   *http.Client
	upstream *url.URL
}

// NewProxy returns a Proxy for the upstream base URL. A zero timeout
// leaves requests bounded only by their context.
func NewProxy(upstream string, timeout time.Duration) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "parse upstream %q", upstream)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("upstream %q: unsupported scheme %q", upstream, u.Scheme)
	}
	return &Proxy{client: &http.Client{Timeout: timeout}, upstream: u}, nil
}

// Forward POSTs body to the upstream at uri and returns its answer. Only
// 2xx answers no larger than 1 MiB are accepted; anything else is an error
// so a partial answer is never relayed.
func (p *Proxy) Forward(ctx context.Context, uri string, body []byte) (*ProxyResponse, error) {
	target := strings.TrimSuffix(p.upstream.String(), "/") + "/" + strings.TrimPrefix(uri, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build proxy request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "proxy request")
	}
	defer func(b io.ReadCloser) {
		_ = b.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("upstream answered %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponse+1))
	if err != nil {
		return nil, errors.Wrap(err, "read proxy response")
	}
	if len(data) > maxProxyResponse {
		return nil, errors.Errorf("upstream response exceeds %d bytes", maxProxyResponse)
	}
	return &ProxyResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: data}, nil
}
