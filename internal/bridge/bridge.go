// Package bridge lets web clients speak the relay's TCP protocol over
// WebSocket + JSON. Each registered web client gets its own TCP connection
// to the relay and appears there as an ordinary session.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/config"
)

type Bridge struct {
	tcpAddr string
	srv     *http.Server

	mu      sync.Mutex
	clients map[int]*wsConn
	calls   map[string]callInfo
}

// callInfo tracks a live call notice between two web clients. The audio
// itself flows over the UDP relay; this is only the ring/accept/end
// bookkeeping the web UI needs.
type callInfo struct {
	CallerID   int
	ReceiverID int
}

// New wires the bridge against the relay's TCP endpoint.
func New(cfg *config.Config, tcpPort int) *Bridge {
	b := &Bridge{
		tcpAddr: fmt.Sprintf("127.0.0.1:%d", tcpPort),
		clients: make(map[int]*wsConn),
		calls:   make(map[string]callInfo),
	}
	b.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.BridgePort),
		Handler: b.setupRouter(cfg),
	}
	return b
}

func (b *Bridge) setupRouter(cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(clientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/ws", b.handleWS)
	return r
}

func clientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Start serves HTTP in the background.
func (b *Bridge) Start() {
	go func() {
		log.Info().Str("module", "bridge").Str("addr", b.srv.Addr).Msg("bridge started")
		if err := b.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("module", "bridge").Msg("bridge server error")
		}
	}()
}

func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.srv.Shutdown(ctx)
}

func (b *Bridge) addClient(id int, c *wsConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[id] = c
}

func (b *Bridge) removeClient(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

func (b *Bridge) client(id int) (*wsConn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[id]
	return c, ok
}
