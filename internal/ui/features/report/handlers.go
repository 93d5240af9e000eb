// Package report serves the live report: bootstrap snapshot, event streams,
// runner ingestion and node selectors.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/channel"
	"github.com/leapstack-labs/leapreport/internal/ingest"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/starfederation/datastar-go/datastar"
)

const (
	maxIngestBody   = 64 << 20
	maxIngestErrors = 20
)

// Handlers provides HTTP handlers for the report feature.
type Handlers struct {
	source       Source
	channel      *channel.Channel
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Config holds handler dependencies.
type Config struct {
	Source         Source
	Channel        *channel.Channel
	WriteTimeout   time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	origins := slices.Clone(cfg.AllowedOrigins)
	return &Handlers{
		source:       cfg.Source,
		channel:      cfg.Channel,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return originAllowed(r, origins) },
		},
	}
}

// Init returns the bootstrap snapshot.
func (h *Handlers) Init(w http.ResponseWriter, r *http.Request) {
	snap, err := h.source.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// EventsSSE streams canonical events as server-sent events. The first event
// is the snapshot they apply to.
func (h *Handlers) EventsSSE(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, done, err := h.attach(ctx, channel.NewSSEConn(sse, cancel), true)
	if err != nil {
		_ = sse.ConsoleError(err)
		return
	}
	h.wait(ctx, id, done)
}

// EventsWS streams canonical events as JSON frames over a WebSocket.
// Clients fetch /init after the socket is open.
func (h *Handlers) EventsWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, done, err := h.attach(ctx, channel.NewWebSocketConn(ws, h.writeTimeout), false)
	if err != nil {
		_ = ws.Close()
		return
	}

	// Viewers never send data; reading detects the hang-up.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.wait(ctx, id, done)
}

// attach registers conn on the pipeline goroutine, so no frame is emitted
// between the snapshot and the registration.
func (h *Handlers) attach(ctx context.Context, conn channel.Conn, withSnapshot bool) (string, <-chan struct{}, error) {
	var (
		id       string
		done     <-chan struct{}
		frameErr error
	)
	err := h.source.Inspect(ctx, func(t *tree.Tree, _ *aggregate.Engine) {
		if !withSnapshot {
			id, done = h.channel.AddConnection(conn)
			return
		}
		snap := t.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			frameErr = err
			return
		}
		id, done = h.channel.AddConnection(conn, core.Frame{Event: EventSnapshot, Seq: snap.Seq, Data: data})
	})
	if err == nil {
		err = frameErr
	}
	return id, done, err
}

// wait blocks until the connection is gone. The writer must have stopped
// before the handler returns and the response writer is released.
func (h *Handlers) wait(ctx context.Context, id string, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		h.channel.Remove(id)
	case <-done:
	}
	<-done
}

// Ingest accepts runner notifications, one JSON document per line.
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxIngestBody)
	var res IngestResult
	err := ingest.ReadLines(r.Context(), body, func(ctx context.Context, line []byte) error {
		err := h.source.Submit(ctx, line)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, core.ErrTranslation):
			res.Rejected++
			if len(res.Errors) < maxIngestErrors {
				res.Errors = append(res.Errors, err.Error())
			}
			return nil
		}
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	status := http.StatusAccepted
	if res.Accepted == 0 && res.Rejected > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

// Node returns the derived state of one suite, browser, result or image.
func (h *Handlers) Node(w http.ResponseWriter, r *http.Request) {
	// chi matches on the raw path when the request carries escaped
	// separators, leaving the parameter escaped.
	id := chi.URLParam(r, "id")
	if r.URL.RawPath != "" {
		var err error
		if id, err = url.PathUnescape(id); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var (
		view  NodeView
		found bool
	)
	err := h.source.Inspect(r.Context(), func(t *tree.Tree, e *aggregate.Engine) {
		view, found = nodeView(t, e, id)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, fmt.Sprintf("node %q not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func nodeView(t *tree.Tree, e *aggregate.Engine, id string) (NodeView, bool) {
	kind := t.Kind(id)
	if kind == tree.KindUnknown {
		return NodeView{}, false
	}
	v := NodeView{
		ID:       id,
		Kind:     kind.String(),
		Children: slices.Clone(t.Children(id)),
		Shown:    e.ShouldBeShown(id),
	}
	if v.Children == nil {
		v.Children = []string{}
	}
	switch kind {
	case tree.KindResult:
		res, _ := t.Result(id)
		v.Status = res.Status
	case tree.KindImage:
		img, _ := t.Image(id)
		v.Status = img.Status
	default:
		v.Status = e.Status(id)
		v.CheckStatus = e.CheckStatus(id)
		v.Retried = e.Retried(id)
	}
	return v, true
}

// Health reports liveness and the stream position.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: "ok", Connections: h.channel.Len()}
	err := h.source.Inspect(r.Context(), func(t *tree.Tree, _ *aggregate.Engine) {
		health.Seq = t.Seq()
		health.Ended = t.Ended()
	})
	if err != nil {
		health.Status = "stopped"
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// originAllowed accepts requests without an Origin header, same-host
// origins and configured ones ("*" allows all).
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
