// Package wsserver implements the client-facing side of the monitor: a
// WebSocket fan-out of interface samples plus a small JSON status API.
//
// Architecture:
//   - One broadcast goroutine consuming state-store change notifications
//   - One write-pump goroutine per connected client
//   - Non-blocking delivery: each client has a bounded queue with a
//     latest-state-wins drop policy, so a slow client only degrades itself
//
// Client Session Flow:
//  1. Client connects to /ws and the HTTP connection is upgraded
//  2. A full_state message covering every configured interface is sent
//  3. The session is registered and receives interface_update pushes
//  4. Transport error or close tears the session down independently
package wsserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"iftopweb/store"
)

// Options configures the server.
type Options struct {
	Name            string
	BindAddress     string
	Port            int
	MaxConnections  int
	ClientQueueSize int
}

type broadcastMetrics struct {
	clientDrops    uint64
	senderFailures uint64
}

func (m *broadcastMetrics) snapshot() (clientDrops, senderFailures uint64) {
	return atomic.LoadUint64(&m.clientDrops), atomic.LoadUint64(&m.senderFailures)
}

// Server owns the client registry and the broadcast loop.
//
// Thread safety: Start and Stop can be called from any goroutine; the
// clients map is guarded by clientsMutex; every client write pump operates
// independently.
type Server struct {
	opts       Options
	store      *store.Store
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clients      map[uint64]*Client
	clientsMutex sync.RWMutex
	closed       bool // set under clientsMutex; no registrations after Stop
	nextID       atomic.Uint64

	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	metrics   broadcastMetrics
	broadcast atomic.Uint64
	startTime time.Time
}

// NewServer builds the server and its routes. Call Start to begin listening.
func NewServer(opts Options, st *store.Store) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}
	if opts.ClientQueueSize <= 0 {
		opts.ClientQueueSize = 16
	}

	s := &Server{
		opts:    opts,
		store:   st,
		clients: make(map[uint64]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// TLS and origin policy are the fronting proxy's responsibility.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		shutdown:  make(chan struct{}),
		startTime: time.Now().UTC(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", s.handleWebSocket)
	engine.GET("/api/status", s.handleStatus)
	engine.GET("/api/interfaces", s.handleInterfaces)
	s.engine = engine
	return s
}

// Start begins serving HTTP/WebSocket traffic and consuming store changes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.BindAddress, s.opts.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}

	ln, err := newListener(addr)
	if err != nil {
		return fmt.Errorf("failed to start websocket server: %w", err)
	}
	log.Printf("WebSocket server listening on %s", addr)

	s.wg.Add(1)
	go s.handleBroadcasts()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("WebSocket server error: %v", err)
		}
	}()
	return nil
}

// handleBroadcasts consumes change notifications and fans the corresponding
// snapshot out to every registered client. The snapshot is read and encoded
// once per change, never per client.
func (s *Server) handleBroadcasts() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case iface := <-s.store.Changes():
			view, ok := s.store.Snapshot(iface)
			if !ok {
				continue
			}
			payload, err := encodeUpdate(view)
			if err != nil {
				log.Printf("Failed to encode update for %s: %v", iface, err)
				continue
			}
			s.broadcastPayload(payload)
		}
	}
}

// broadcastPayload enqueues one serialized update for every client. Slow
// clients drop their own oldest update; nothing here blocks.
func (s *Server) broadcastPayload(payload []byte) {
	s.broadcast.Add(1)
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	for _, client := range s.clients {
		if client.enqueue(payload) {
			drops := atomic.AddUint64(&s.metrics.clientDrops, 1)
			if shouldLogQueueDrop(drops) {
				log.Printf("Client %d queue full, dropping update (client drops=%d total=%d)",
					client.id, client.Drops(), drops)
			}
		}
	}
}

// shouldLogQueueDrop rate-limits drop logging: first ten, then powers of two.
func shouldLogQueueDrop(count uint64) bool {
	if count <= 10 {
		return true
	}
	return count&(count-1) == 0
}

// handleWebSocket upgrades the connection and runs one client session.
func (s *Server) handleWebSocket(c *gin.Context) {
	select {
	case <-s.shutdown:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	default:
	}
	if s.GetClientCount() >= s.opts.MaxConnections {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for %s: %v", c.ClientIP(), err)
		return
	}

	client := newClient(s.nextID.Add(1), conn.RemoteAddr().String(), conn, s.opts.ClientQueueSize)
	log.Printf("New connection from %s (client %d)", client.remoteAddr, client.id)

	// The full-state push happens before registration so it always precedes
	// the first incremental update on this session.
	payload, err := encodeFullState(s.store.SnapshotAll())
	if err != nil {
		log.Printf("Failed to encode full state: %v", err)
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("Client %d failed during initial push: %v", client.id, err)
		conn.Close()
		return
	}

	if !s.registerClient(client) {
		// Stop ran between the upgrade and registration; the session never
		// joins the registry so Stop is not obliged to wait for it.
		conn.Close()
		return
	}
	go s.runWritePump(client)

	// Read side: the protocol is push-only, so inbound frames are drained
	// just to observe pongs and closes.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.unregisterClient(client)
}

// registerClient adds the client to the registry and reserves its pump slot
// in the WaitGroup. Both happen under the same lock Stop takes before Wait,
// so a registration either completes before Stop or is refused. Returns false
// once the server has stopped.
func (s *Server) registerClient(client *Client) bool {
	s.clientsMutex.Lock()
	if s.closed {
		s.clientsMutex.Unlock()
		return false
	}
	s.clients[client.id] = client
	total := len(s.clients)
	s.wg.Add(1)
	s.clientsMutex.Unlock()
	log.Printf("Registered client %d (total: %d)", client.id, total)
	return true
}

// runWritePump drives one registered client's pump to completion and settles
// its WaitGroup slot.
func (s *Server) runWritePump(client *Client) {
	defer s.wg.Done()
	if err := client.writePump(); err != nil {
		atomic.AddUint64(&s.metrics.senderFailures, 1)
		log.Printf("Client %d write failed: %v", client.id, err)
	}
	s.unregisterClient(client)
}

// unregisterClient removes a client from the registry and releases its
// transport. Safe to call from both pump exit paths; only the first call
// does the work.
func (s *Server) unregisterClient(client *Client) {
	s.clientsMutex.Lock()
	_, present := s.clients[client.id]
	if present {
		delete(s.clients, client.id)
	}
	total := len(s.clients)
	s.clientsMutex.Unlock()

	client.close()
	if present {
		log.Printf("Unregistered client %d (total: %d)", client.id, total)
	}
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// BroadcastMetricSnapshot returns cumulative fan-out counters.
func (s *Server) BroadcastMetricSnapshot() (broadcasts, clientDrops, senderFailures uint64) {
	clientDrops, senderFailures = s.metrics.snapshot()
	return s.broadcast.Load(), clientDrops, senderFailures
}

// Stop shuts the server down: no new connections, all sessions closed, all
// pumps finished.
func (s *Server) Stop() {
	log.Println("Stopping WebSocket server...")
	s.stopOnce.Do(func() {
		s.clientsMutex.Lock()
		s.closed = true
		s.clientsMutex.Unlock()
		close(s.shutdown)
	})

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("WebSocket server shutdown: %v", err)
		}
	}

	s.clientsMutex.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	s.clientsMutex.Unlock()
	for _, client := range clients {
		s.unregisterClient(client)
	}

	s.wg.Wait()
}

func (s *Server) handleStatus(c *gin.Context) {
	broadcasts, clientDrops, senderFailures := s.BroadcastMetricSnapshot()
	interfaces := make([]gin.H, 0)
	for _, v := range s.store.SnapshotAll() {
		interfaces = append(interfaces, gin.H{
			"interface": v.Interface,
			"status":    v.Status,
			"has_data":  v.HasData(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"name":            s.opts.Name,
		"uptime_seconds":  time.Since(s.startTime).Seconds(),
		"clients":         s.GetClientCount(),
		"broadcasts":      broadcasts,
		"client_drops":    clientDrops,
		"sender_failures": senderFailures,
		"interfaces":      interfaces,
	})
}

func (s *Server) handleInterfaces(c *gin.Context) {
	states := make([]InterfaceState, 0)
	for _, v := range s.store.SnapshotAll() {
		states = append(states, stateFromView(v))
	}
	c.JSON(http.StatusOK, states)
}
