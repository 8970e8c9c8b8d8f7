package kraken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	apiVersion     = "0"
	DefaultBaseURL = "https://api.kraken.com"

	// pointLimit is the exchange's private-call budget; each method has a
	// fixed weight and the accumulated total drops by one point every
	// three seconds.
	pointLimit         = 10
	pointDecaySeconds  = 3
	defaultQueueTick   = 500 * time.Millisecond
	defaultHTTPTimeout = 10 * time.Second
)

var publicMethods = map[string]bool{
	"Time":       true,
	"Assets":     true,
	"AssetPairs": true,
	"Ticker":     true,
	"Depth":      true,
	"Trades":     true,
	"Spread":     true,
	"OHLC":       true,
}

var privateWeights = map[string]int{
	"Balance":       1,
	"TradeBalance":  1,
	"OpenOrders":    1,
	"ClosedOrders":  1,
	"QueryOrders":   1,
	"TradesHistory": 2,
	"QueryTrades":   1,
	"OpenPositions": 1,
	"Ledgers":       2,
	"QueryLedgers":  2,
	"TradeVolume":   1,
	"AddOrder":      1,
	"CancelOrder":   1,
}

// NonceSource supplies the strictly increasing integers required by the
// exchange's authentication scheme.
type NonceSource interface {
	Next(ctx context.Context) (int64, error)
}

type callResult struct {
	result json.RawMessage
	err    error
}

type call struct {
	method   string
	params   url.Values
	nonce    int64
	hasNonce bool
	done     chan callResult
}

// Client dispatches requests against the Kraken REST API. Public calls
// pass straight through; private calls are queued FIFO and drained one at
// a time by a recurring tick so that the accumulated point usage never
// crosses the exchange's budget. At most one private request is in
// flight at any moment.
type Client struct {
	baseURL    string
	apiKey     string
	secret     []byte
	nonces     NonceSource
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.Mutex
	queue     []*call
	points    float64
	lastDecay time.Time
	stopped   bool

	now      func() time.Time
	tick     time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewClient creates a client for the given credentials. The secret is the
// base64-encoded private key from the exchange. Call Start to begin
// draining the private request queue.
func NewClient(baseURL, apiKey, secret string, nonces NonceSource, log zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid API secret: %w", err)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		secret:  decoded,
		nonces:  nonces,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		log:      log.With().Str("component", "kraken").Logger(),
		now:      time.Now,
		tick:     defaultQueueTick,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the queue drain loop.
func (c *Client) Start() {
	c.mu.Lock()
	c.lastDecay = c.now()
	c.mu.Unlock()

	go c.run()
}

// Stop halts the drain loop. Queued private requests are rejected with a
// transport-classified shutdown error so no caller is left waiting.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopChan)
	<-c.doneChan
}

func (c *Client) run() {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			c.failQueued()
			return
		case <-ticker.C:
			c.pump()
		}
	}
}

// Call performs an API call. Public methods execute immediately; private
// methods are queued and the call blocks until dispatched or the context
// is done.
func (c *Client) Call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	return c.call(ctx, method, params, 0, false)
}

// CallWithNonce performs a private call with an explicitly reserved
// nonce. Order submissions use this so that the client reference number
// and the signing nonce are the same value.
func (c *Client) CallWithNonce(ctx context.Context, method string, params url.Values, nonce int64) (json.RawMessage, error) {
	return c.call(ctx, method, params, nonce, true)
}

func (c *Client) call(ctx context.Context, method string, params url.Values, nonce int64, hasNonce bool) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}

	if publicMethods[method] {
		return c.public(ctx, method, params)
	}

	if _, ok := privateWeights[method]; !ok {
		return nil, validationErrorf("%s is not a valid API method", method)
	}

	cl := &call{
		method:   method,
		params:   params,
		nonce:    nonce,
		hasNonce: hasNonce,
		done:     make(chan callResult, 1),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, &TransportError{Op: method, Err: ErrClientStopped}
	}
	c.queue = append(c.queue, cl)
	c.mu.Unlock()

	select {
	case res := <-cl.done:
		return res.result, res.err
	case <-ctx.Done():
		return nil, &TransportError{Op: method, Err: ctx.Err()}
	}
}

// pump runs once per tick: decay the point budget, then dispatch the head
// of the queue if its weight fits under the limit. Requests are never
// reordered and never overlap.
func (c *Client) pump() {
	c.mu.Lock()
	c.decayPoints()

	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}

	next := c.queue[0]
	weight := float64(privateWeights[next.method])

	if c.points+weight >= pointLimit {
		c.log.Debug().
			Str("method", next.method).
			Float64("points", c.points).
			Msg("point budget exhausted, deferring to next tick")
		c.mu.Unlock()
		return
	}

	c.queue = c.queue[1:]
	c.points += weight
	c.mu.Unlock()

	result, err := c.privateSend(next)
	next.done <- callResult{result: result, err: err}
}

// decayPoints drops accumulated points by elapsed seconds divided by the
// decay interval, floored at zero. Caller must hold the mutex.
func (c *Client) decayPoints() {
	now := c.now()
	elapsed := now.Sub(c.lastDecay).Seconds()
	c.lastDecay = now

	c.points -= elapsed / pointDecaySeconds
	if c.points < 0 {
		c.points = 0
	}
}

func (c *Client) failQueued() {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, cl := range queued {
		cl.done <- callResult{err: &TransportError{Op: cl.method, Err: ErrClientStopped}}
	}
}

func (c *Client) privateSend(cl *call) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultHTTPTimeout)
	defer cancel()

	nonce := cl.nonce
	if !cl.hasNonce {
		n, err := c.nonces.Next(ctx)
		if err != nil {
			return nil, err
		}
		nonce = n
	}

	form := url.Values{}
	for key, vals := range cl.params {
		form[key] = vals
	}
	form.Set("nonce", strconv.FormatInt(nonce, 10))

	path := "/" + apiVersion + "/private/" + cl.method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Op: cl.method, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", signRequest(c.secret, path, form))

	c.log.Debug().
		Str("method", cl.method).
		Int64("nonce", nonce).
		Msg("sending private request")

	return c.do(req, cl.method)
}

func (c *Client) public(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	path := "/" + apiVersion + "/public/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, method)
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}

	return parseResponse(method, body)
}

// parseResponse classifies the response envelope: a non-empty error list
// is an exchange rejection, an unparsable body a transport failure.
func parseResponse(method string, body []byte) (json.RawMessage, error) {
	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &TransportError{Op: method, Err: fmt.Errorf("could not understand response: %s", body)}
	}

	if len(envelope.Error) > 0 {
		code := "<unknown error>"
		for _, element := range envelope.Error {
			if strings.HasPrefix(element, "E") {
				code = strings.TrimPrefix(element, "E")
				break
			}
		}
		return nil, &ExchangeError{Code: code}
	}

	return envelope.Result, nil
}
