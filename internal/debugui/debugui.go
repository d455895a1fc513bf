// Package debugui is a read-only operator debug surface: an HTTP status
// page serving static assets via net/http's FileServer (with request
// logging from github.com/maruel/serve-dir's loghttp) and a /stream
// websocket that mirrors whatever the reply sink publishes. It
// sits beside the message-bus RPC surface, not in place of it, grounded
// directly on cmd/lepton/server.go's WebServer.
package debugui

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/maruel/serve-dir/loghttp"
	"golang.org/x/net/websocket"

	"github.com/sdss/archond/internal/logging"
	"github.com/sdss/archond/internal/ports"
	"github.com/sdss/archond/internal/replysink"
)

// Server is the debug HTTP/websocket surface. Status construction does
// not start listening; call Start.
type Server struct {
	fanout    *replysink.FanOut
	staticDir string
	log       *slog.Logger
}

// New returns a Server mirroring fanout's events and serving static
// assets (the status page HTML/JS/CSS) from staticDir.
func New(fanout *replysink.FanOut, staticDir string) *Server {
	return &Server{fanout: fanout, staticDir: staticDir, log: logging.Default()}
}

// Start listens on addr in the background, returning once the listener is
// bound so callers can log the chosen address. It stops when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	mux.Handle("/stream", websocket.Handler(s.stream))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	// loghttp.Handler wraps the mux with serve-dir's access-log
	// middleware; internal/debugui only needs request logging from the
	// module, not its standalone static-file CLI.
	srv := &http.Server{Handler: &loghttp.Handler{Handler: mux}}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && ctx.Err() == nil {
			s.log.Warn("debugui server exited", "err", err)
		}
	}()
	return ln.Addr(), nil
}

// stream re-publishes every event seen by the reply sink's fan-out as one
// JSON object per websocket message, mirroring
// cmd/lepton/server.go's metadata-then-payload framing (simplified here
// to one JSON object per frame since events are already structured).
func (s *Server) stream(ws *websocket.Conn) {
	defer ws.Close()
	ch, cancel := s.fanout.Subscribe()
	defer cancel()

	s.log.Info("debugui stream opened", "remote", ws.Request().RemoteAddr)
	for ev := range ch {
		if err := s.writeEvent(ws, ev); err != nil {
			s.log.Info("debugui stream closed", "err", err)
			return
		}
	}
}

func (s *Server) writeEvent(ws *websocket.Conn, ev ports.Event) error {
	return websocket.JSON.Send(ws, map[string]any{"key": ev.Key, "fields": ev.Fields})
}

// Addr formats a net.Addr for logging, matching the teacher's
// fmt.Printf("Listening on %d\n", port) one-liner.
func Addr(a net.Addr) string {
	return fmt.Sprintf("http://%s", a.String())
}
