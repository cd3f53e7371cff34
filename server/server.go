// Package server exposes the verification engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"goldhash/engine"
)

// maxBodySize bounds a verification request body.
const maxBodySize = 32 << 20

// Engine is the part of engine.Engine the transport calls.
type Engine interface {
	Verify(ctx context.Context, req engine.Request) *engine.Verdict
	Fetch(ctx context.Context, query url.Values) (*engine.FetchResult, error)
}

// Handler serves every path: a body-less request carrying a file key is
// a fetch, anything else a verification.
type Handler struct {
	engine Engine
	logger *slog.Logger
}

func New(e Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: e, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("request", "peer", r.RemoteAddr, "method", r.Method, "path", r.URL.Path)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("request body too large", "peer", r.RemoteAddr, "limit", tooLarge.Limit)
		} else {
			h.logger.Warn("cannot read request body", "peer", r.RemoteAddr, "err", err)
		}
		writeResults(w, []engine.PageHashBlockResult{})
		return
	}

	query := r.URL.Query()
	if len(body) == 0 && hasKey(query, "file") {
		h.serveFetch(w, r, query)
		return
	}

	v := h.engine.Verify(r.Context(), engine.Request{Query: query, Body: body, URI: r.URL.RequestURI()})
	if v.Proxied != nil {
		ct := v.ContentType
		if ct == "" {
			ct = "application/json"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = w.Write(v.Proxied)
		return
	}
	writeResults(w, v.Results)
}

func (h *Handler) serveFetch(w http.ResponseWriter, r *http.Request, query url.Values) {
	res, err := h.engine.Fetch(r.Context(), query)
	if err != nil {
		h.logger.Debug("fetch refused", "query", r.URL.RawQuery, "err", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer func(b io.ReadCloser) {
		_ = b.Close()
	}(res.Body)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	if n, err := io.Copy(w, res.Body); err != nil {
		h.logger.Warn("fetch interrupted", "path", res.Path, "sent", n, "err", err)
	}
}

func hasKey(q url.Values, key string) bool {
	for k := range q {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func writeResults(w http.ResponseWriter, results []engine.PageHashBlockResult) {
	if results == nil {
		results = []engine.PageHashBlockResult{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}
