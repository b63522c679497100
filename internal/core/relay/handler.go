package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/bridge"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/transport"
)

// BannerPrefix starts the first line sent to every client.
const BannerPrefix = "J14 HTTP-Savant Relay v"

// Banner returns the greeting line for version.
func Banner(version string) string {
	return BannerPrefix + version
}

// Executor runs parsed commands against the hub.
type Executor interface {
	Query(ctx context.Context, resource string) ([]string, error)
	Command(ctx context.Context, path string, body document.Map, channel string) ([]string, error)
	Create(ctx context.Context, path string, body document.Map) ([]string, error)
}

// Replayer provides the current state for a new client.
type Replayer interface {
	Replay() []state.ChangeEvent
}

// HandlerConfig configures client sessions.
type HandlerConfig struct {
	Version     string
	ReplayDelay time.Duration
}

// Handler runs client sessions: greeting, state replay, then the command
// read loop.
type Handler struct {
	cfg      HandlerConfig
	exec     Executor
	store    Replayer
	registry *Registry
	out      *queue.Queue
	log      *slog.Logger
}

// NewHandler creates a session handler.
func NewHandler(cfg HandlerConfig, exec Executor, store Replayer, registry *Registry, out *queue.Queue, log *slog.Logger) *Handler {
	return &Handler{cfg: cfg, exec: exec, store: store, registry: registry, out: out, log: log}
}

// Serve runs a session on conn until the client leaves, the connection
// fails or ctx is cancelled. The connection is closed on return.
func (h *Handler) Serve(ctx context.Context, conn transport.Conn, kind string) {
	c := NewClient(conn, kind)
	log := h.log.With("conn", c.ID(), "remote", c.RemoteAddr())

	h.registry.Add(c)
	log.Info("client connected", "transport", kind, "clients", h.registry.Len())
	defer func() {
		h.registry.Remove(c.ID())
		c.Close()
		log.Info("client disconnected", "clients", h.registry.Len())
	}()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if err := c.WriteLine(Banner(h.cfg.Version)); err != nil {
		log.Debug("banner write failed", "error", err)
		return
	}
	if !sleep(ctx, h.cfg.ReplayDelay) {
		return
	}
	if err := c.Replay(h.replayLines()); err != nil {
		log.Debug("replay failed", "error", err)
		return
	}

	for {
		line, err := c.ReadLine()
		switch {
		case errors.Is(err, transport.ErrInterrupt):
			log.Debug("client sent interrupt")
			return
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return
		case err != nil:
			log.Debug("read failed", "error", err)
			return
		}

		replies, done := h.Execute(ctx, line)
		for _, reply := range replies {
			if err := c.WriteLine(reply); err != nil {
				log.Debug("reply write failed", "error", err)
				return
			}
		}
		if done {
			return
		}
	}
}

func (h *Handler) replayLines() []string {
	events := h.store.Replay()
	lines := make([]string, 0, len(events))
	for _, evt := range events {
		line, err := evt.Line()
		if err != nil {
			h.log.Warn("skipping unencodable replay entry", "category", evt.Category, "id", evt.ID, "error", err)
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Execute runs one inbound line and returns the reply lines for the
// sender. done reports that the sender asked to end its session.
func (h *Handler) Execute(ctx context.Context, line string) (replies []string, done bool) {
	req := ParseLine(line)

	var err error
	switch req.Kind {
	case RequestEmpty:
		return []string{bridge.Errorf(bridge.ClassEmptyCommand, "Empty Command String").Line()}, false
	case RequestClose:
		return nil, true
	case RequestRestart:
		h.log.Info("restart requested by client")
		if err := h.out.Put(ctx, queue.Restart()); err != nil {
			h.log.Warn("restart request not queued", "error", err)
		}
		return nil, true
	case RequestInvalid:
		return []string{req.Err.Line()}, false
	case RequestQuery:
		replies, err = h.exec.Query(ctx, req.Path)
	case RequestCommand:
		replies, err = h.exec.Command(ctx, req.Path, req.Body, req.Channel)
	case RequestCreate:
		replies, err = h.exec.Create(ctx, req.Path, req.Body)
	}

	if err != nil {
		h.log.Warn("command failed", "path", req.Path, "error", err)
		return []string{bridge.ErrorLine(err)}, false
	}
	return replies, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
