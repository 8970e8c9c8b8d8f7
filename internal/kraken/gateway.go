package kraken

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OrderRequest holds the parameters of an order to submit. Validate is
// called before any network traffic so malformed requests fail fast.
type OrderRequest struct {
	Pair    string    `json:"pair"`
	Side    OrderSide `json:"side"`
	Type    OrderType `json:"type"`
	Volume  string    `json:"volume"`
	Price   string    `json:"price,omitempty"`
	UserRef string    `json:"user_ref,omitempty"`
}

// Validate checks the required fields: pair, side, order kind and volume
// are always mandatory, price only when the kind is limit.
func (r OrderRequest) Validate() error {
	if r.Pair == "" {
		return &ValidationError{Msg: "pair is required"}
	}
	if _, ok := sideToWire[r.Side]; !ok {
		return validationErrorf("invalid order side %q", string(r.Side))
	}
	if _, ok := typeToWire[r.Type]; !ok {
		return validationErrorf("invalid order type %q", string(r.Type))
	}
	if r.Volume == "" {
		return &ValidationError{Msg: "volume is required"}
	}
	if r.Type == TypeLimit && r.Price == "" {
		return &ValidationError{Msg: "when order type is limit, price is required"}
	}
	return nil
}

func (r OrderRequest) wireValues() url.Values {
	values := url.Values{}
	values.Set("pair", r.Pair)
	values.Set("type", sideToWire[r.Side])
	values.Set("ordertype", typeToWire[r.Type])
	values.Set("volume", r.Volume)
	if r.Price != "" {
		values.Set("price", r.Price)
	}
	if r.UserRef != "" {
		values.Set("userref", r.UserRef)
	}
	return values
}

// Gateway translates domain requests to wire parameters and raw responses
// back into typed records.
type Gateway struct {
	client *Client
	log    zerolog.Logger
}

func NewGateway(client *Client, log zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		log:    log.With().Str("component", "gateway").Logger(),
	}
}

// rawOrder mirrors the exchange's order JSON.
type rawOrder struct {
	RefID   *string     `json:"refid"`
	UserRef json.Number `json:"userref"`
	Status  string      `json:"status"`
	OpenTm  float64     `json:"opentm"`
	CloseTm float64     `json:"closetm"`
	Descr   struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
		Order     string `json:"order"`
	} `json:"descr"`
	Vol     string `json:"vol"`
	VolExec string `json:"vol_exec"`
	Cost    string `json:"cost"`
	Fee     string `json:"fee"`
	Price   string `json:"price"`
}

func wrapOrder(txID string, raw rawOrder) (Order, error) {
	status, ok := statusFromWire[raw.Status]
	if !ok {
		return Order{}, validationErrorf("unexpected order status %q", raw.Status)
	}
	side, err := sideFromWire(raw.Descr.Type)
	if err != nil {
		return Order{}, err
	}
	typ, err := typeFromWire(raw.Descr.OrderType)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		TxID:           txID,
		UserRef:        raw.UserRef.String(),
		Status:         status,
		Side:           side,
		Pair:           raw.Descr.Pair,
		Type:           typ,
		Price:          raw.Descr.Price,
		Volume:         raw.Vol,
		ExecutedVolume: raw.VolExec,
		Cost:           raw.Cost,
		Fee:            raw.Fee,
		AveragePrice:   raw.Price,
		Description:    raw.Descr.Order,
		OpenTime:       raw.OpenTm,
		CloseTime:      raw.CloseTm,
	}
	if raw.RefID != nil {
		order.RefID = *raw.RefID
	}
	if order.UserRef == "0" {
		order.UserRef = ""
	}
	return order, nil
}

func wrapOrders(rawOrders map[string]rawOrder) ([]Order, error) {
	orders := make([]Order, 0, len(rawOrders))
	for txID, raw := range rawOrders {
		order, err := wrapOrder(txID, raw)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// AddOrder submits a new order under the given reserved nonce, which also
// serves as the client reference number.
func (g *Gateway) AddOrder(ctx context.Context, req OrderRequest, nonce int64) (AddOrderResult, error) {
	if err := req.Validate(); err != nil {
		return AddOrderResult{}, err
	}

	values := req.wireValues()
	values.Set("userref", strconv.FormatInt(nonce, 10))

	raw, err := g.client.CallWithNonce(ctx, "AddOrder", values, nonce)
	if err != nil {
		return AddOrderResult{}, err
	}

	var result struct {
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return AddOrderResult{}, &TransportError{Op: "AddOrder", Err: err}
	}

	return AddOrderResult{
		Description:    result.Descr.Order,
		TransactionIDs: result.TxID,
	}, nil
}

// OpenOrders lists currently open orders, optionally filtered by client
// reference number.
func (g *Gateway) OpenOrders(ctx context.Context, userRef string) ([]Order, error) {
	params := url.Values{}
	if userRef != "" {
		params.Set("userref", userRef)
	}

	raw, err := g.client.Call(ctx, "OpenOrders", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Open map[string]rawOrder `json:"open"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "OpenOrders", Err: err}
	}
	return wrapOrders(result.Open)
}

// ClosedOrders lists recently closed orders, optionally filtered by
// client reference number.
func (g *Gateway) ClosedOrders(ctx context.Context, userRef string) ([]Order, error) {
	params := url.Values{}
	if userRef != "" {
		params.Set("userref", userRef)
	}

	raw, err := g.client.Call(ctx, "ClosedOrders", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Closed map[string]rawOrder `json:"closed"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "ClosedOrders", Err: err}
	}
	return wrapOrders(result.Closed)
}

// QueryOrders fetches current snapshots for the given transaction ids in
// one batch call.
func (g *Gateway) QueryOrders(ctx context.Context, txIDs []string) ([]Order, error) {
	if len(txIDs) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("txid", strings.Join(txIDs, ","))

	raw, err := g.client.Call(ctx, "QueryOrders", params)
	if err != nil {
		return nil, err
	}

	var result map[string]rawOrder
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "QueryOrders", Err: err}
	}
	return wrapOrders(result)
}

// CancelOrder cancels an open order by transaction id.
func (g *Gateway) CancelOrder(ctx context.Context, txID string) error {
	params := url.Values{}
	params.Set("txid", txID)

	_, err := g.client.Call(ctx, "CancelOrder", params)
	return err
}

// Balances fetches all account asset balances.
func (g *Gateway) Balances(ctx context.Context) ([]Balance, error) {
	raw, err := g.client.Call(ctx, "Balance", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "Balance", Err: err}
	}

	balances := make([]Balance, 0, len(result))
	for asset, amount := range result {
		balances = append(balances, Balance{Asset: asset, Amount: amount})
	}
	return balances, nil
}

// rawTicker mirrors the exchange's ticker JSON: each field is an array of
// price and volume strings.
type rawTicker struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

// Tickers fetches current ticker information for the given pairs.
func (g *Gateway) Tickers(ctx context.Context, pairs []string) ([]Ticker, error) {
	params := url.Values{}
	params.Set("pair", strings.Join(pairs, ","))

	raw, err := g.client.Call(ctx, "Ticker", params)
	if err != nil {
		return nil, err
	}

	var result map[string]rawTicker
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "Ticker", Err: err}
	}

	now := time.Now()
	tickers := make([]Ticker, 0, len(result))
	for pair, raw := range result {
		ticker := Ticker{Pair: pair, Timestamp: now}
		if len(raw.Ask) >= 3 {
			ticker.Ask, ticker.AskVolume = raw.Ask[0], raw.Ask[2]
		}
		if len(raw.Bid) >= 3 {
			ticker.Bid, ticker.BidVolume = raw.Bid[0], raw.Bid[2]
		}
		if len(raw.Last) >= 1 {
			ticker.LastPrice = raw.Last[0]
		}
		tickers = append(tickers, ticker)
	}
	return tickers, nil
}
