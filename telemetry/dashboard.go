package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
)

const recentEntriesLimit = 200

// Dashboard serves the telemetry log over HTTP: a JSON snapshot of recent
// entries plus a WebSocket feed of new ones.
type Dashboard struct {
	store  *Store
	fanout *Fanout
	logger *zap.SugaredLogger

	server   *http.Server
	upgrader websocket.Upgrader
}

// NewDashboard builds the server on the given port. Only loopback clients
// are expected; the listener binds localhost.
func NewDashboard(store *Store, fanout *Fanout, port int, logger *zap.SugaredLogger) *Dashboard {
	d := &Dashboard{
		store:  store,
		fanout: fanout,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/logs", d.handleLogs)
	mux.HandleFunc("/ws", d.handleWS)

	d.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Start listens in a background goroutine.
func (d *Dashboard) Start() {
	go func() {
		d.logger.Infow("telemetry dashboard listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warnw("dashboard server stopped", "error", err)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	return d.server.Shutdown(ctx)
}

func (d *Dashboard) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := d.store.ListRecent(recentEntriesLimit)
	if err != nil {
		d.logger.Warnw("list recent entries failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		d.logger.Debugw("encode recent entries failed", "error", err)
	}
}

func (d *Dashboard) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	observer := NewWSObserver(conn)
	d.fanout.Register(id, observer)
	d.logger.Debugw("dashboard client connected", "observer", id)

	// Drain the read side so pings and close frames are processed. The
	// observer is removed when the client disconnects or a Send fails.
	go func() {
		defer func() {
			d.fanout.Unregister(id)
			observer.Close()
			d.logger.Debugw("dashboard client disconnected", "observer", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
