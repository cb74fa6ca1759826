package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"BiasSentinel/internal/model"
)

// WSConfig configures the WebSocket feed.
type WSConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// ReadTimeout bounds the silence tolerated before the connection is
	// considered dead.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// DefaultWSConfig returns the default WebSocket settings.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

type subscribeRequest struct {
	Op         string            `json:"op"`
	Symbol     string            `json:"symbol"`
	Timeframes []model.Timeframe `json:"timeframes"`
}

type pushMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Bar       wireBar `json:"bar"`
}

// WSFeed subscribes to pushed closed bars and buffers them per timeframe
// until the pipeline drains them.
type WSFeed struct {
	endpoint   string
	symbol     string
	timeframes []model.Timeframe
	config     WSConfig

	conn   *websocket.Conn
	connMu sync.Mutex

	mu   sync.Mutex
	buf  map[model.Timeframe][]model.Bar
	last map[model.Timeframe]time.Time

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWSFeed connects, subscribes and starts the read loop.
func NewWSFeed(ctx context.Context, endpoint, symbol string, tfs []model.Timeframe, config *WSConfig) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	f := &WSFeed{
		endpoint:   endpoint,
		symbol:     symbol,
		timeframes: tfs,
		config:     cfg,
		buf:        make(map[model.Timeframe][]model.Bar),
		last:       make(map[model.Timeframe]time.Time),
		done:       make(chan struct{}),
	}
	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()
	return f, nil
}

func (f *WSFeed) Name() string { return "ws" }

func (f *WSFeed) NextBar(ctx context.Context, tf model.Timeframe) (model.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Bar{}, false, err
	}
	f.mu.Lock()
	q := f.buf[tf]
	if len(q) > 0 {
		b := q[0]
		f.buf[tf] = q[1:]
		f.mu.Unlock()
		return b, true, nil
	}
	f.mu.Unlock()

	if !f.Connected() {
		return model.Bar{}, false, ErrNotConnected
	}
	return model.Bar{}, false, nil
}

// Connected reports whether a live connection is held.
func (f *WSFeed) Connected() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.conn != nil
}

// Close shuts the connection and waits for the read loop to exit.
func (f *WSFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	req := subscribeRequest{Op: "subscribe", Symbol: f.symbol, Timeframes: f.timeframes}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	log.Printf("[INFO] ws feed subscribed: %s %v", f.symbol, f.timeframes)
	return nil
}

func (f *WSFeed) dropConn(conn *websocket.Conn) {
	f.connMu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.connMu.Unlock()
	conn.Close()
}

// readLoop reads pushed bars and reconnects with exponential backoff when
// the connection drops.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	delay := f.config.ReconnectDelay
	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(delay):
			}
			ctx, cancel := context.WithTimeout(context.Background(), f.config.HandshakeTimeout)
			err := f.connect(ctx)
			cancel()
			if err != nil {
				log.Printf("[WARN] ws feed reconnect failed: %v", err)
				delay = min(delay*2, f.config.MaxReconnectDelay)
				continue
			}
			delay = f.config.ReconnectDelay
			continue
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			log.Printf("[WARN] ws feed read: %v", err)
			f.dropConn(conn)
			continue
		}
		f.handleMessage(message)
	}
}

func (f *WSFeed) handleMessage(data []byte) {
	var msg pushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[WARN] ws feed decode: %v", err)
		return
	}
	if msg.Type != "bar" || msg.Symbol != f.symbol {
		return
	}
	tf, err := model.ParseTimeframe(msg.Timeframe)
	if err != nil {
		log.Printf("[WARN] ws feed: %v", err)
		return
	}
	b := msg.Bar.toBar(tf)

	f.mu.Lock()
	defer f.mu.Unlock()
	// Replays after a reconnect resend bars already buffered.
	if last, ok := f.last[tf]; ok && !b.OpenTime.After(last) {
		return
	}
	f.last[tf] = b.OpenTime
	f.buf[tf] = append(f.buf[tf], b)
}
