package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET STREAMER - Realtime execution prices → Redis Stream
// ═══════════════════════════════════════════════════════════════════════════════

// trIDStockExec is the realtime execution-price subscription.
const trIDStockExec = "H0STCNT0"

const (
	subscribePacing = 50 * time.Millisecond
	reconnectDelay  = 60 * time.Second
)

// Streamer maintains one broker WebSocket connection, subscribes the union of
// all requested codes, and publishes parsed ticks to the price stream.
// Subscription requests from every service funnel through this singleton.
type Streamer struct {
	rdb *redis.Client
	kis *KIS
	url string

	mu      sync.Mutex
	codes   map[string]struct{}
	running bool
	cancel  context.CancelFunc
	conn    *websocket.Conn
}

// NewStreamer creates a stopped streamer. kis supplies approval keys.
func NewStreamer(rdb *redis.Client, kis *KIS, wsURL string) *Streamer {
	return &Streamer{
		rdb:   rdb,
		kis:   kis,
		url:   wsURL,
		codes: make(map[string]struct{}),
	}
}

// IsRunning reports whether the connection loop is active.
func (s *Streamer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SubscribedCodes returns the current subscription set, sorted.
func (s *Streamer) SubscribedCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// AddSubscriptions merges codes into the subscription set and returns the
// ones that were new. A running streamer reconnects to pick them up.
func (s *Streamer) AddSubscriptions(ctx context.Context, codes []string) []string {
	s.mu.Lock()
	var added []string
	for _, c := range codes {
		if _, ok := s.codes[c]; !ok {
			s.codes[c] = struct{}{}
			added = append(added, c)
		}
	}
	restart := s.running && len(added) > 0
	s.mu.Unlock()

	if restart {
		s.Stop()
		time.Sleep(500 * time.Millisecond)
		s.Start(ctx)
	}
	return added
}

// Start launches the connection loop in the background. No-op when already
// running or with an empty subscription set.
func (s *Streamer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Warn().Msg("streamer already running")
		return
	}
	if len(s.codes) == 0 {
		s.mu.Unlock()
		log.Warn().Msg("streamer has no codes to subscribe")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	count := len(s.codes)
	s.mu.Unlock()

	go s.loop(runCtx)
	log.Info().Int("codes", count).Str("url", s.url).Msg("📡 streamer started")
}

// Stop closes the connection and ends the loop.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	log.Info().Msg("streamer stopped")
}

// loop dials, subscribes, and reads until the context is cancelled. Each
// reconnect waits out the delay and refreshes the approval key.
func (s *Streamer) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		key, err := s.kis.ApprovalKey(ctx)
		if err != nil {
			log.Error().Err(err).Msg("approval key fetch failed")
		} else {
			s.session(ctx, key)
		}

		if ctx.Err() != nil {
			return
		}
		log.Info().Dur("delay", reconnectDelay).Msg("streamer reconnecting after delay")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// session runs one connection to completion.
func (s *Streamer) session(ctx context.Context, approvalKey string) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", s.url).Msg("websocket dial failed")
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	log.Info().Msg("broker websocket connected")
	if err := s.sendSubscriptions(ctx, conn, approvalKey); err != nil {
		log.Warn().Err(err).Msg("subscribe failed")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		s.handleMessage(ctx, conn, string(raw))
	}
}

type subscribeFrame struct {
	Header struct {
		ApprovalKey string `json:"approval_key"`
		CustType    string `json:"custtype"`
		TrType      string `json:"tr_type"`
		ContentType string `json:"content-type"`
	} `json:"header"`
	Body struct {
		Input struct {
			TrID  string `json:"tr_id"`
			TrKey string `json:"tr_key"`
		} `json:"input"`
	} `json:"body"`
}

// sendSubscriptions registers every code, paced to stay under the broker's
// registration rate.
func (s *Streamer) sendSubscriptions(ctx context.Context, conn *websocket.Conn, approvalKey string) error {
	codes := s.SubscribedCodes()
	for _, code := range codes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var frame subscribeFrame
		frame.Header.ApprovalKey = approvalKey
		frame.Header.CustType = "P"
		frame.Header.TrType = "1"
		frame.Header.ContentType = "utf-8"
		frame.Body.Input.TrID = trIDStockExec
		frame.Body.Input.TrKey = code

		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
		time.Sleep(subscribePacing)
	}
	log.Info().Int("codes", len(codes)).Msg("subscriptions sent")
	return nil
}

// handleMessage routes one frame. JSON frames are control traffic (PINGPONG
// echo, subscribe acks); tick frames start with '0' or '1' and carry
// '|'-separated sections with '^'-separated fields.
func (s *Streamer) handleMessage(ctx context.Context, conn *websocket.Conn, msg string) {
	if msg == "" {
		return
	}

	if msg[0] == '{' {
		var frame struct {
			Header struct {
				TrID string `json:"tr_id"`
			} `json:"header"`
		}
		if err := json.Unmarshal([]byte(msg), &frame); err == nil && frame.Header.TrID == "PINGPONG" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		return
	}

	if msg[0] != '0' && msg[0] != '1' {
		return
	}

	parts := strings.Split(msg, "|")
	if len(parts) < 4 {
		return
	}
	fields := strings.Split(parts[3], "^")
	if len(fields) < 6 {
		return
	}

	values := map[string]interface{}{
		"code":  fields[0],
		"price": fields[2],
		"high":  fields[5],
		"vol":   "0",
	}
	if len(fields) > 10 {
		values["vol"] = fields[10]
	}

	if err := bus.RawPublish(ctx, s.rdb, bus.StreamPrices, values); err != nil {
		log.Warn().Err(err).Msg("tick publish failed")
	}
}
