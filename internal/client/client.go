// Package client attaches a reducer to a running report server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/reducer"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// SupportedProtocol is the snapshot protocol range this client understands.
const SupportedProtocol = "^1"

// Options configures a client.
type Options struct {
	// URL is the server base URL, e.g. http://localhost:8000.
	URL        string
	HTTPClient *http.Client
	Aggregate  aggregate.Options
	Logger     *slog.Logger
}

// Client streams frames from a server into a reducer.
type Client struct {
	base       *url.URL
	http       *http.Client
	dialer     *websocket.Dialer
	constraint *semver.Constraints
	reducer    *reducer.Reducer
	logger     *slog.Logger

	endOnce sync.Once
	ended   chan struct{}
}

// New validates the options and creates a client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", opts.URL)
	}
	constraint, err := semver.NewConstraint(SupportedProtocol)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base:       base,
		http:       hc,
		dialer:     websocket.DefaultDialer,
		constraint: constraint,
		reducer:    reducer.New(opts.Aggregate, logger),
		logger:     logger,
		ended:      make(chan struct{}),
	}, nil
}

// Reducer returns the replica the client feeds.
func (c *Client) Reducer() *reducer.Reducer {
	return c.reducer
}

// Ended is closed once the replica has seen the end of the run.
func (c *Client) Ended() <-chan struct{} {
	return c.ended
}

// Run connects the stream, bootstraps the reducer and applies frames until
// ctx is cancelled or the server closes the connection. The stream is
// opened before the snapshot is fetched so no frame falls between them.
func (c *Client) Run(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.endpoint("/ws", true), nil)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer func() { _ = ws.Close() }()

	readErr := make(chan error, 1)
	go func() { readErr <- c.read(ws) }()

	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := c.reducer.Bootstrap(snap); err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	c.logger.Info("attached", "server", c.base.String(), "seq", snap.Seq)
	c.checkEnded()

	select {
	case <-ctx.Done():
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return nil
	case err := <-readErr:
		return err
	}
}

// FetchSnapshot downloads and validates the bootstrap snapshot.
func (c *Client) FetchSnapshot(ctx context.Context) (*core.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/init", false), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch snapshot: %s", resp.Status)
	}
	var snap core.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := c.checkProtocol(snap.ProtocolVersion); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) checkProtocol(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid protocol version %q: %w", version, err)
	}
	if !c.constraint.Check(v) {
		return fmt.Errorf("unsupported protocol version %s (want %s)", v, SupportedProtocol)
	}
	return nil
}

func (c *Client) read(ws *websocket.Conn) error {
	for {
		var f core.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				c.logger.Warn("skipping malformed frame", "error", err)
				continue
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		if err := c.reducer.ApplyFrame(f); err != nil {
			c.logger.Warn("skipping invalid frame", "event", f.Event, "seq", f.Seq, "error", err)
			continue
		}
		if f.Event == core.EventEnd {
			c.checkEnded()
		}
	}
}

func (c *Client) checkEnded() {
	if c.reducer.Bootstrapped() && c.reducer.Ended() {
		c.endOnce.Do(func() { close(c.ended) })
	}
}

func (c *Client) endpoint(path string, ws bool) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if ws {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}
	return u.String()
}
