package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	applog "spectro/internal/log"
	"spectro/internal/spectrogram"

	"github.com/gorilla/websocket"
)

const (
	// ColumnsPath is where clients connect for the column stream.
	ColumnsPath = "/ws"

	writeWait   = time.Second
	broadcastQ  = 256
	readLimitWS = 512
)

// WebSocketTransport broadcasts columns as JSON to every connected client.
// Slow clients cannot stall Send: when the broadcast queue is full the
// column is dropped.
type WebSocketTransport struct {
	addr     string
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	server   *http.Server
	log      applog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	closed    bool

	broadcast chan spectrogram.Column
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWebSocketTransport creates a transport for addr and starts its
// broadcast loop. Call Serve (or mount Handler) to accept clients.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local presentation clients
			},
		},
		mux:       http.NewServeMux(),
		log:       applog.WithPrefix("WebSocketTransport"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan spectrogram.Column, broadcastQ),
		done:      make(chan struct{}),
	}
	wst.mux.HandleFunc(ColumnsPath, wst.handleWebSocket)

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// Handle mounts an extra handler (for example /metrics) on the same server.
func (wst *WebSocketTransport) Handle(pattern string, h http.Handler) {
	wst.mux.Handle(pattern, h)
}

// Handler returns the HTTP handler serving the column stream.
func (wst *WebSocketTransport) Handler() http.Handler { return wst.mux }

// Serve listens on the configured address in the background. Listen errors
// are returned synchronously.
func (wst *WebSocketTransport) Serve() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return err
	}

	wst.clientsMu.Lock()
	wst.server = &http.Server{Handler: wst.mux, ReadHeaderTimeout: 5 * time.Second}
	server := wst.server
	wst.clientsMu.Unlock()

	wst.log.Infof("serving columns on ws://%s%s", ln.Addr(), ColumnsPath)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.Errorf("server error: %v", err)
		}
	}()
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	if wst.closed {
		wst.clientsMu.Unlock()
		conn.Close()
		return
	}
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Infof("client connected, total: %d", total)

	// Clients only listen; reading detects the disconnect.
	conn.SetReadLimit(readLimitWS)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	conn.Close()
	if ok {
		wst.log.Infof("client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued columns to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case col := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(col); err != nil {
					wst.log.Warnf("error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Send queues col for broadcast. A full queue drops the column.
func (wst *WebSocketTransport) Send(col spectrogram.Column) error {
	select {
	case <-wst.done:
		return net.ErrClosed
	default:
	}
	select {
	case wst.broadcast <- col:
	default:
		wst.log.Debugf("queue full, dropped column at %.3fs", col.Time)
	}
	return nil
}

// Close disconnects all clients and shuts down the server.
func (wst *WebSocketTransport) Close() error {
	wst.clientsMu.Lock()
	if wst.closed {
		wst.clientsMu.Unlock()
		return nil
	}
	wst.closed = true
	close(wst.done)
	for client := range wst.clients {
		client.Close()
	}
	wst.clients = make(map[*websocket.Conn]bool)
	server := wst.server
	wst.clientsMu.Unlock()

	wst.wg.Wait()
	wst.log.Infof("closed")
	if server != nil {
		return server.Close()
	}
	return nil
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
