package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mixcache/internal/jsonrpc"
)

// UpstreamWSClient owns a single WebSocket connection for a validator.
// It multiplexes JSON-RPC requests on one connection and correlates responses by id.
type UpstreamWSClient struct {
	wsURL             string
	messageTimeout    time.Duration
	reconnectInterval time.Duration
	pingInterval      time.Duration
	upstream          *Upstream
	logger            zerolog.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUpstreamWSClient creates a new WebSocket client for a validator
func NewUpstreamWSClient(wsURL string, messageTimeout, reconnectInterval, pingInterval time.Duration, u *Upstream, logger zerolog.Logger) *UpstreamWSClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &UpstreamWSClient{
		wsURL:             wsURL,
		messageTimeout:    messageTimeout,
		reconnectInterval: reconnectInterval,
		pingInterval:      pingInterval,
		upstream:          u,
		logger:            logger,
		pending:           make(map[int64]chan *jsonrpc.Response),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Connect establishes the WebSocket connection and starts the reader goroutine
func (c *UpstreamWSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}
	c.connMu.Unlock()

	c.logger.Info().Msg("WebSocket connecting")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setPongHandler(conn)
	c.logger.Info().Msg("WebSocket connected")
	c.wg.Add(1)
	go c.readLoop()
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return nil
}

func (c *UpstreamWSClient) readTimeout() time.Duration {
	if c.messageTimeout == 0 {
		return 60 * time.Second
	}
	return c.messageTimeout
}

func (c *UpstreamWSClient) setPongHandler(conn *websocket.Conn) {
	readTimeout := c.readTimeout()
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
}

func (c *UpstreamWSClient) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

// Connected returns true if the WebSocket connection is established
func (c *UpstreamWSClient) Connected() bool {
	c.connMu.RLock()
	ok := c.conn != nil
	c.connMu.RUnlock()
	return ok
}

// Close closes the connection and stops the reader
func (c *UpstreamWSClient) Close() {
	c.logger.Info().Msg("WebSocket closing")
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.failPending()
	c.wg.Wait()
	c.logger.Info().Msg("WebSocket disconnected")
}

// SendRequest sends an RPC request and waits for the response
func (c *UpstreamWSClient) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("WebSocket not connected")
	}

	reqID := atomic.AddInt64(&c.reqID, 1)
	respChan := make(chan *jsonrpc.Response, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	wsReq := req.WithID(jsonrpc.NewIDInt(reqID))

	reqBytes, err := wsReq.Bytes()
	if err != nil {
		c.removePending(reqID)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.removePending(reqID)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	c.upstream.IncrementRequestCount()

	select {
	case resp := <-respChan:
		if resp != nil {
			resp.ID = req.ID
			return resp, nil
		}
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		c.removePending(reqID)
		return nil, ctx.Err()
	}
}

func (c *UpstreamWSClient) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending releases every waiter with a nil response
func (c *UpstreamWSClient) failPending() {
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
	}
	c.pending = make(map[int64]chan *jsonrpc.Response)
	c.pendingMu.Unlock()
}

func (c *UpstreamWSClient) readLoop() {
	defer c.wg.Done()

	readTimeout := c.readTimeout()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			c.logger.Info().Msg("WebSocket reader stopped (no connection)")
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
				return
			default:
			}

			c.logger.Warn().Err(err).Msg("WebSocket connection lost, reconnecting")
			if c.reconnect() {
				continue
			}
			c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
			return
		}

		c.dispatchMessage(data)
	}
}

// dispatchMessage routes a response to the request waiting for it
func (c *UpstreamWSClient) dispatchMessage(data []byte) {
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		c.logger.Debug().Err(err).Msg("ignoring unparseable WebSocket message")
		return
	}

	id, ok := resp.ID.Int64()
	if !ok {
		c.logger.Debug().Msg("ignoring WebSocket message without numeric id")
		return
	}

	c.pendingMu.Lock()
	ch, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !found {
		c.logger.Debug().Int64("id", id).Msg("response for unknown request")
		return
	}
	ch <- resp
}

func (c *UpstreamWSClient) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.logger.Info().Msg("WebSocket connection closed, starting reconnection loop")

	c.failPending()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	interval := c.reconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info().Msg("WebSocket reconnection stopped (shutdown)")
			return false
		case <-time.After(interval):
		}

		c.logger.Info().Dur("interval", interval).Msg("WebSocket reconnection attempt")

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.setPongHandler(conn)
		c.logger.Info().Msg("WebSocket reconnected successfully")
		return true
	}
}
