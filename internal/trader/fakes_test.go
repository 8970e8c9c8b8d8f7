package trader

import (
	"context"
	"fmt"
	"sort"

	"kraken-trading-bot/internal/kraken"
	"kraken-trading-bot/internal/position"
)

// memStore is an in-memory stand-in for database.Repository.
type memStore struct {
	unsent    []UnsentOrder
	sent      map[int64]SentOrder
	failed    map[int64]FailedOrder
	pending   []PendingIDEntry
	positions map[string]position.Position
	tickers   []kraken.Ticker
	configs   map[string]string

	failListUnsent bool
	failListState  map[position.State]bool
}

func newMemStore() *memStore {
	return &memStore{
		sent:      make(map[int64]SentOrder),
		failed:    make(map[int64]FailedOrder),
		positions: make(map[string]position.Position),
		configs:   make(map[string]string),
	}
}

func (m *memStore) AddUnsentOrder(ctx context.Context, order UnsentOrder) error {
	m.unsent = append(m.unsent, order)
	return nil
}

func (m *memStore) RemoveUnsentOrder(ctx context.Context, ref int64) error {
	for i, o := range m.unsent {
		if o.Ref == ref {
			m.unsent = append(m.unsent[:i], m.unsent[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) ListUnsentOrders(ctx context.Context) ([]UnsentOrder, error) {
	if m.failListUnsent {
		return nil, fmt.Errorf("store unavailable")
	}
	return append([]UnsentOrder(nil), m.unsent...), nil
}

func (m *memStore) AddSentOrder(ctx context.Context, order SentOrder) error {
	m.sent[order.Ref] = order
	return nil
}

func (m *memStore) FindSentOrderByRef(ctx context.Context, ref int64) (*SentOrder, error) {
	if order, ok := m.sent[ref]; ok {
		return &order, nil
	}
	return nil, nil
}

func (m *memStore) FindSentOrdersByTxIDs(ctx context.Context, txIDs []string) ([]SentOrder, error) {
	wanted := make(map[string]bool, len(txIDs))
	for _, id := range txIDs {
		wanted[id] = true
	}

	var refs []int64
	for ref, order := range m.sent {
		if wanted[order.TxID] {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	var orders []SentOrder
	for _, ref := range refs {
		orders = append(orders, m.sent[ref])
	}
	return orders, nil
}

func (m *memStore) AddFailedOrder(ctx context.Context, order FailedOrder) error {
	m.failed[order.Ref] = order
	return nil
}

func (m *memStore) FindFailedOrderError(ctx context.Context, ref int64) (string, bool, error) {
	if order, ok := m.failed[ref]; ok {
		return order.Error, true, nil
	}
	return "", false, nil
}

func (m *memStore) AddPendingID(ctx context.Context, entry PendingIDEntry) error {
	m.pending = append(m.pending, entry)
	return nil
}

func (m *memStore) RemovePendingID(ctx context.Context, ref int64) error {
	for i, e := range m.pending {
		if e.Ref == ref {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) ListPendingIDs(ctx context.Context) ([]PendingIDEntry, error) {
	return append([]PendingIDEntry(nil), m.pending...), nil
}

func (m *memStore) ListPositionsByState(ctx context.Context, state position.State, pair string) ([]position.Position, error) {
	if m.failListState[state] {
		return nil, fmt.Errorf("store unavailable")
	}

	var ids []string
	for id, p := range m.positions {
		if p.State == state && (pair == "" || p.Pair == pair) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var matches []position.Position
	for _, id := range ids {
		matches = append(matches, m.positions[id])
	}
	return matches, nil
}

func (m *memStore) UpdatePosition(ctx context.Context, p position.Position) error {
	m.positions[p.ID] = p
	return nil
}

func (m *memStore) SetConfigValue(ctx context.Context, key, value string) error {
	m.configs[key] = value
	return nil
}

func (m *memStore) RecentTickers(ctx context.Context, pair string, limit int) ([]kraken.Ticker, error) {
	if limit > len(m.tickers) {
		limit = len(m.tickers)
	}
	return append([]kraken.Ticker(nil), m.tickers[:limit]...), nil
}

// seqNonces hands out sequential references starting from a fixed base.
type seqNonces struct {
	next int64
}

func (s *seqNonces) Next(ctx context.Context) (int64, error) {
	n := s.next
	s.next++
	return n, nil
}

// fakeGateway scripts exchange responses per method.
type fakeGateway struct {
	addResult  kraken.AddOrderResult
	addErr     error
	addCalls   int
	openOrders map[string][]kraken.Order
	closed     map[string][]kraken.Order
	queried    map[string]kraken.Order
	queryCalls int
}

func (g *fakeGateway) AddOrder(ctx context.Context, req kraken.OrderRequest, nonce int64) (kraken.AddOrderResult, error) {
	g.addCalls++
	return g.addResult, g.addErr
}

func (g *fakeGateway) OpenOrders(ctx context.Context, userRef string) ([]kraken.Order, error) {
	return g.openOrders[userRef], nil
}

func (g *fakeGateway) ClosedOrders(ctx context.Context, userRef string) ([]kraken.Order, error) {
	return g.closed[userRef], nil
}

func (g *fakeGateway) QueryOrders(ctx context.Context, txIDs []string) ([]kraken.Order, error) {
	g.queryCalls++
	var orders []kraken.Order
	for _, id := range txIDs {
		if order, ok := g.queried[id]; ok {
			orders = append(orders, order)
		}
	}
	return orders, nil
}
