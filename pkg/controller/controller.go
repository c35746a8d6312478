package controller

import (
	"context"
	"net/http"
	"sync"

	"querydash/pkg/auth"
	"querydash/pkg/jobs"
	"querydash/pkg/store"

	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
)

// Controller serves the queries API
type Controller struct {
	store        *store.Store
	auth         *auth.Authenticator
	queue        *jobs.Queue
	decoder      *schema.Decoder
	upgrader     websocket.Upgrader
	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	startOnce    sync.Once

	defaultPageSize int
	maxPageSize     int
}

// Client is a websocket connection following job status changes
type Client struct {
	conn   *websocket.Conn
	orgID  int64
	filter ClientFilter
	mu     sync.Mutex
}

// ClientFilter narrows the jobs a client is told about. An empty filter
// forwards every job of the client's organization.
type ClientFilter struct {
	JobIDs []string `json:"job_ids"`
}

// Paging bounds list endpoints
type Paging struct {
	DefaultPageSize int
	MaxPageSize     int
}

// NewController creates a new Controller instance
func NewController(
	ctx context.Context,
	store *store.Store,
	authenticator *auth.Authenticator,
	queue *jobs.Queue,
	paging Paging,
) *Controller {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	ctx, cancel := context.WithCancel(ctx)
	return &Controller{
		store:   store,
		auth:    authenticator,
		queue:   queue,
		decoder: decoder,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:         make(map[*Client]bool),
		ctx:             ctx,
		cancel:          cancel,
		defaultPageSize: paging.DefaultPageSize,
		maxPageSize:     paging.MaxPageSize,
	}
}

// Start begins forwarding job events to websocket clients
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		go c.broadcastJobs()
	})
}

// Shutdown stops the job broadcaster and closes websocket clients
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		c.clientsMutex.Lock()
		for client := range c.clients {
			client.conn.Close()
		}
		c.clientsMutex.Unlock()
	})
}
