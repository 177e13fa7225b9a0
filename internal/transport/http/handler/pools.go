package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prazos-api/internal/application/account"
	"github.com/prazos-api/internal/application/numbering"
	"github.com/prazos-api/internal/domain"
)

const (
	// readyTimeout bounds how long a request waits for the tenant's first snapshot.
	readyTimeout = 5 * time.Second
	// echoTimeout bounds how long a transition response waits for its own echo.
	echoTimeout = time.Second
	keepAlive   = 25 * time.Second
)

type secretRequest struct {
	Password string `json:"password"`
}

type clearRequest struct {
	Confirm  bool   `json:"confirm"`
	Password string `json:"password"`
}

// PoolHandler exposes the numbering controller over HTTP. The caller's tenant
// comes from the bearer token; each tenant shares one long-lived session.
type PoolHandler struct {
	ctrl     *numbering.Controller
	sessions *numbering.Sessions
}

func NewPoolHandler(ctrl *numbering.Controller, sessions *numbering.Sessions) *PoolHandler {
	return &PoolHandler{ctrl: ctrl, sessions: sessions}
}

func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ready(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PoolsEnvelope{UpperBound: h.ctrl.UpperBound(), Pools: s.Views()})
}

func (h *PoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	cat, ok := category(w, r)
	if !ok {
		return
	}
	s, ok := h.ready(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View(cat))
}

// Toggle allocates a free number or releases a used one; the password is only checked on release.
func (h *PoolHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, s *numbering.Session, cat domain.Category, n int) (numbering.Result, error) {
		return h.ctrl.Toggle(ctx, s, cat, n, numbering.Password(req.Password))
	})
}

func (h *PoolHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, s *numbering.Session, cat domain.Category, n int) (numbering.Result, error) {
		return h.ctrl.Allocate(ctx, s, cat, n)
	})
}

func (h *PoolHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, s *numbering.Session, cat domain.Category, n int) (numbering.Result, error) {
		return h.ctrl.Release(ctx, s, cat, n, numbering.Password(req.Password))
	})
}

func (h *PoolHandler) Clear(w http.ResponseWriter, r *http.Request) {
	cat, ok := category(w, r)
	if !ok {
		return
	}
	var req clearRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s, ok := h.ready(w, r)
	if !ok {
		return
	}
	res, err := h.ctrl.Clear(r.Context(), s, cat, numbering.Confirmed(req.Confirm), numbering.Password(req.Password))
	h.respond(w, r, s, cat, res, err)
}

// Events streams the tenant's pools as server-sent events: one snapshot right
// away, then one after every change.
func (h *PoolHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	s, ok := h.ready(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	// The server's write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		changed := s.Changed()
		data, err := json.Marshal(PoolsEnvelope{UpperBound: h.ctrl.UpperBound(), Pools: s.Views()})
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: pools\nid: %d\ndata: %s\n\n", s.Version(), data); err != nil {
			return
		}
		flusher.Flush()

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				break wait
			case <-ticker.C:
				if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

type transitionFunc func(ctx context.Context, s *numbering.Session, cat domain.Category, n int) (numbering.Result, error)

func (h *PoolHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	cat, ok := category(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "number must be an integer")
		return
	}
	s, ok := h.ready(w, r)
	if !ok {
		return
	}
	res, err := fn(r.Context(), s, cat, n)
	h.respond(w, r, s, cat, res, err)
}

func (h *PoolHandler) respond(w http.ResponseWriter, r *http.Request, s *numbering.Session, cat domain.Category, res numbering.Result, err error) {
	if err != nil {
		httpError(w, err)
		return
	}
	if res.Version > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), echoTimeout)
		_ = s.WaitVersion(ctx, res.Version)
		cancel()
	}
	writeJSON(w, http.StatusOK, TransitionEnvelope{Result: res, Pool: s.View(cat)})
}

// ready returns the caller's session once its first snapshot is in.
func (h *PoolHandler) ready(w http.ResponseWriter, r *http.Request) (*numbering.Session, bool) {
	p, ok := account.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	s, err := h.sessions.Ready(ctx, p.TenantID)
	if err != nil {
		httpError(w, err)
		return nil, false
	}
	return s, true
}

func category(w http.ResponseWriter, r *http.Request) (domain.Category, bool) {
	cat, ok := domain.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return "", false
	}
	return cat, true
}

// decodeOptional decodes a JSON body into v; an empty body leaves v zero.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
