// Package handler serves the tech-stack autocomplete over HTTP and the
// internal RPC transport.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/rpc"
)

// Index is the query and maintenance surface of the autocomplete index.
type Index interface {
	Autocomplete(prefix string) []string
	Suggest(prefix string, max int) []string
	Reload(ctx context.Context) error
	Stats() autocomplete.Stats
}

type Handler struct {
	index  Index
	logger *slog.Logger
}

func New(index Index) *Handler {
	return &Handler{
		index:  index,
		logger: logger.WithComponent("autocomplete-handler"),
	}
}

// Register mounts the public query route behind limit and the reload route
// behind admin.
func (h *Handler) Register(mux *http.ServeMux, limit, admin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/portfolios/autocomplete", limit(http.HandlerFunc(h.Autocomplete)))
	mux.Handle("POST /api/admin/autocomplete/reload", admin(http.HandlerFunc(h.Reload)))
}

// Autocomplete returns every indexed keyword starting with the keyword
// query parameter. A missing or empty parameter matches all keywords.
func (h *Handler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("keyword")
	h.writeJSON(w, http.StatusOK, map[string][]string{
		"keywords": h.index.Autocomplete(prefix),
	})
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.index.Reload(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("manual autocomplete reload failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, apperrors.ErrStoreUnavailable.Error())
		return
	}
	st := h.index.Stats()
	logger.FromContext(r.Context()).Info("autocomplete index reloaded on request", "keywords", st.Keywords)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reloaded",
		"keywords":    st.Keywords,
		"duration_ms": st.LastRebuildDuration.Milliseconds(),
	})
}

// RegisterRPC exposes Suggest, Stats and Reload on s.
func (h *Handler) RegisterRPC(s *rpc.Server) {
	s.Register(proto.MethodSuggest, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.SuggestRequest
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("decoding suggest request: %w", err)
			}
		}
		return proto.SuggestResponse{Suggestions: h.index.Suggest(req.Prefix, int(req.MaxItems))}, nil
	})
	s.Register(proto.MethodStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return statsResponse(h.index.Stats()), nil
	})
	s.Register(proto.MethodReload, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if err := h.index.Reload(ctx); err != nil {
			logger.FromContext(ctx).Error("rpc autocomplete reload failed", "error", err)
			return proto.ReloadResponse{Success: false, Message: err.Error()}, nil
		}
		return proto.ReloadResponse{Success: true, Keywords: int64(h.index.Stats().Keywords)}, nil
	})
}

func statsResponse(st autocomplete.Stats) proto.StatsResponse {
	resp := proto.StatsResponse{
		Keywords:              int64(st.Keywords),
		Ready:                 st.Ready,
		LastRebuildDurationMs: st.LastRebuildDuration.Milliseconds(),
	}
	if !st.LastRebuild.IsZero() {
		resp.LastRebuildUnix = st.LastRebuild.Unix()
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
