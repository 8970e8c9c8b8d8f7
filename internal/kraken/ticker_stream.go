package kraken

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultWSURL is Kraken's public websocket endpoint.
	DefaultWSURL = "wss://ws.kraken.com"

	wsReadTimeout    = 90 * time.Second
	wsMaxReconnect   = 60 * time.Second
	wsBaseReconnect  = time.Second
	wsHandshakeLimit = 10 * time.Second
)

// TickerSink receives ticker observations from the stream.
type TickerSink interface {
	StoreTicker(ctx context.Context, ticker Ticker) error
}

// TickerStream subscribes to the public websocket ticker channel for a
// set of pairs and forwards every observation to the sink. It reconnects
// with exponential backoff on any connection failure.
type TickerStream struct {
	url   string
	pairs []string
	sink  TickerSink
	log   zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
}

// NewTickerStream creates a stream for the given websocket pair names
// (e.g. "XRP/USD" — the websocket API uses slash-separated names, not
// the REST pair codes).
func NewTickerStream(url string, pairs []string, sink TickerSink, log zerolog.Logger) *TickerStream {
	if url == "" {
		url = DefaultWSURL
	}
	return &TickerStream{
		url:      url,
		pairs:    pairs,
		sink:     sink,
		log:      log.With().Str("component", "ticker-stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the stream connection loop.
func (s *TickerStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connectLoop()
}

// Stop closes the connection and halts reconnection.
func (s *TickerStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)

	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *TickerStream) connectLoop() {
	backoff := wsBaseReconnect

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if err := s.runConnection(); err != nil {
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("ticker stream disconnected, reconnecting")
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnect {
			backoff = wsMaxReconnect
		}
	}
}

func (s *TickerStream) runConnection() error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeLimit}

	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	subscribe := map[string]interface{}{
		"event": "subscribe",
		"pair":  s.pairs,
		"subscription": map[string]string{
			"name": "ticker",
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		conn.Close()
		return err
	}

	s.log.Info().Strs("pairs", s.pairs).Msg("subscribed to ticker channel")

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}

		s.handleMessage(message)
	}
}

// wsTickerPayload mirrors the ticker channel payload: each field is an
// array of price and volume strings.
type wsTickerPayload struct {
	Ask  []json.Number `json:"a"`
	Bid  []json.Number `json:"b"`
	Last []json.Number `json:"c"`
}

func (s *TickerStream) handleMessage(message []byte) {
	// Channel messages are arrays: [channelID, payload, channelName, pair].
	// Everything else (heartbeats, subscription status) is an object.
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 4 {
		return
	}

	var channel string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return
	}

	var pair string
	if err := json.Unmarshal(frame[3], &pair); err != nil {
		return
	}

	var payload wsTickerPayload
	if err := json.Unmarshal(frame[1], &payload); err != nil {
		s.log.Warn().Err(err).Msg("unparsable ticker payload")
		return
	}

	ticker := Ticker{Pair: pair, Timestamp: time.Now()}
	if len(payload.Ask) >= 3 {
		ticker.Ask, ticker.AskVolume = payload.Ask[0].String(), payload.Ask[2].String()
	}
	if len(payload.Bid) >= 3 {
		ticker.Bid, ticker.BidVolume = payload.Bid[0].String(), payload.Bid[2].String()
	}
	if len(payload.Last) >= 1 {
		ticker.LastPrice = payload.Last[0].String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.sink.StoreTicker(ctx, ticker); err != nil {
		s.log.Error().Err(err).Str("pair", pair).Msg("failed to store ticker")
	}
}
