package lighter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"scalper_go/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	readDeadline     = 90 * time.Second
)

// BookHandler receives parsed depth snapshots from the stream.
type BookHandler func(ob *domain.OrderBook)

// Stream maintains the market data websocket with automatic
// reconnection. Depth updates are parsed and handed to the handler;
// REST polling stays in place as a fallback, so a dropped stream
// degrades freshness rather than correctness.
type Stream struct {
	url       string
	marketIDs []int
	handler   BookHandler

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewStream creates a stream for the given markets.
func NewStream(wsURL string, marketIDs []int, handler BookHandler) *Stream {
	return &Stream{
		url:       wsURL,
		marketIDs: marketIDs,
		handler:   handler,
		logger:    slog.Default().With("module", "lighter_stream"),
	}
}

// Start launches the connection loop.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

// Stop tears the connection down and waits for the loop to exit.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}

// Connected reports whether the stream currently has a live connection.
func (s *Stream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Stream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream panic recovered", slog.Any("panic", r))
		}
	}()

	retryWait := backoff.NewExponentialBackOff()
	retryWait.InitialInterval = time.Second
	retryWait.MaxInterval = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream connection loop stopped")
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			delay := retryWait.NextBackOff()
			s.logger.Warn("stream connection failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryWait.Reset()
		s.readLoop(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	go s.pingLoop(ctx)

	s.logger.Info("stream connected", slog.Int("markets", len(s.marketIDs)))
	return nil
}

type subscribeMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (s *Stream) subscribe() error {
	for _, id := range s.marketIDs {
		msg := subscribeMsg{
			Type:    "subscribe",
			Channel: "order_book/" + strconv.Itoa(id),
		}
		if err := s.writeJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				s.writeMu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type streamMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Book    struct {
		Bids []bookLevel `json:"bids"`
		Asks []bookLevel `json:"asks"`
	} `json:"order_book"`
}

func (s *Stream) readLoop(ctx context.Context) {
	defer s.closeConnection()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("stream read failed", slog.Any("error", err))
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("skipping malformed stream message", slog.Any("error", err))
			continue
		}
		if !strings.HasPrefix(msg.Channel, "order_book") {
			continue
		}

		marketID, ok := marketFromChannel(msg.Channel)
		if !ok {
			continue
		}
		s.handler(parseStreamBook(marketID, msg))
	}
}

// marketFromChannel extracts the market id from "order_book/7" or
// "order_book:7".
func marketFromChannel(channel string) (int, bool) {
	idx := strings.LastIndexAny(channel, "/:")
	if idx < 0 || idx == len(channel)-1 {
		return 0, false
	}
	id, err := strconv.Atoi(channel[idx+1:])
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseStreamBook(marketID int, msg streamMessage) *domain.OrderBook {
	ob := &domain.OrderBook{MarketID: marketID, LastUpdate: time.Now()}
	for _, lvl := range msg.Book.Bids {
		ob.Bids = append(ob.Bids, domain.OrderBookLevel{
			Price: parseDec(lvl.Price), Size: parseDec(lvl.RemainingBase),
		})
	}
	for _, lvl := range msg.Book.Asks {
		ob.Asks = append(ob.Asks, domain.OrderBookLevel{
			Price: parseDec(lvl.Price), Size: parseDec(lvl.RemainingBase),
		})
	}
	return ob
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}
