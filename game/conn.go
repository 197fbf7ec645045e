package game

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	readIdleTimeout = time.Minute
	pingInterval    = 30 * time.Second
	closeTimeout    = 20 * time.Second
	outboundBuffer  = 256
)

// Conn abstracts the websocket so pumps are testable without a network.
type Conn interface {
	Close(errCode string)
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
}

type websocketConnection struct {
	socket *websocket.Conn
}

func (wc *websocketConnection) Write(data []byte) error {
	return wc.socket.WriteMessage(websocket.TextMessage, data)
}

func (wc *websocketConnection) Ping() error {
	return wc.socket.WriteMessage(websocket.PingMessage, nil)
}

func (wc *websocketConnection) Read() ([]byte, error) {
	_, p, err := wc.socket.ReadMessage()
	return p, err
}

func (wc *websocketConnection) Close(errCode string) {
	wc.socket.SetWriteDeadline(time.Now().Add(closeTimeout))
	wc.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, errCode))
	wc.socket.Close()
}

func newWebsocketConnection(conn *websocket.Conn) *websocketConnection {
	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})
	return &websocketConnection{conn}
}

// client is one connected participant's transport state.
type client struct {
	id       string
	sock     Conn
	outbound chan []byte
	limiter  *rate.Limiter

	// mu serializes enqueue against closeOutbound: handlers may still target
	// this conn id while its websocket goroutine is tearing down.
	mu     sync.Mutex
	closed bool
}

func newClient(id string, sock Conn) *client {
	return &client{
		id:       id,
		sock:     sock,
		outbound: make(chan []byte, outboundBuffer),
		// generous burst: dice spam at the table is the norm
		limiter: rate.NewLimiter(20, 60),
	}
}

// enqueue queues one frame for the write pump. It reports false when the
// queue is closed or full; either way the frame is dropped, never blocked on.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbound <- frame:
		return true
	default:
		return false
	}
}

// closeOutbound shuts the queue exactly once, ending the write pump.
func (c *client) closeOutbound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbound)
}

// readPump feeds inbound frames to the service until the socket errors.
// Frames past the rate limit are dropped, not queued.
func (c *client) readPump(s *Service) {
	for {
		data, err := c.sock.Read()
		if err != nil {
			break
		}
		if !c.limiter.Allow() {
			log.Warn().Str("conn", c.id).Msg("rate limit exceeded, dropping frame")
			continue
		}
		s.Dispatch(c.id, data)
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// periodic pings. It exits when the gateway closes the queue or a write
// fails.
func (c *client) writePump() {
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case data, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.sock.Write(data); err != nil {
				return
			}
		case <-pings.C:
			if err := c.sock.Ping(); err != nil {
				return
			}
		}
	}
}

// Handler owns the websocket endpoint.
type Handler struct {
	service  *Service
	gateway  *Gateway
	upgrader websocket.Upgrader
}

func NewHandler(service *Service, gateway *Gateway, allowedOrigins []string) *Handler {
	return &Handler{
		service: service,
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev: LAN clients connect from arbitrary origins
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// WebsocketHandler upgrades the request and runs the connection until the
// client goes away.
func (h *Handler) WebsocketHandler(ctx *gin.Context) {
	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("ip", ctx.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), newWebsocketConnection(conn))
	h.gateway.register(c)
	go c.writePump()

	h.service.HandleConnect(c.id)
	c.readPump(h.service)

	h.service.HandleDisconnect(c.id)
	h.gateway.unregister(c.id)
	c.sock.Close("")
}
