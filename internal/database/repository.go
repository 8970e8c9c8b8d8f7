package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"kraken-trading-bot/internal/kraken"
	"kraken-trading-bot/internal/position"
	"kraken-trading-bot/internal/trader"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// POSITIONS
// ============================================================================

// SavePosition inserts a new position
func (r *Repository) SavePosition(ctx context.Context, p position.Position) error {
	strategy, err := json.Marshal(p.Strategy)
	if err != nil {
		return storageErr("save position", err)
	}
	completed, err := json.Marshal(p.Completed)
	if err != nil {
		return storageErr("save position", err)
	}

	query := `
		INSERT INTO positions (id, state, strategy, side, pair, volume, starting_price,
		                       completed_txids, send_ref, current_tx_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		p.ID, string(p.State), strategy, string(p.Side), p.Pair, p.Volume,
		nullFloat(p.StartingPrice), completed, nullString(p.SendRef),
		nullString(p.CurrentTxID), nullString(p.Detail),
	)
	return storageErr("save position", err)
}

// UpdatePosition rewrites the stored variant of an existing position
func (r *Repository) UpdatePosition(ctx context.Context, p position.Position) error {
	strategy, err := json.Marshal(p.Strategy)
	if err != nil {
		return storageErr("update position", err)
	}
	completed, err := json.Marshal(p.Completed)
	if err != nil {
		return storageErr("update position", err)
	}

	query := `
		UPDATE positions
		SET state = $2, strategy = $3, starting_price = $4, completed_txids = $5,
		    send_ref = $6, current_tx_id = $7, detail = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		p.ID, string(p.State), strategy, nullFloat(p.StartingPrice), completed,
		nullString(p.SendRef), nullString(p.CurrentTxID), nullString(p.Detail),
	)
	return storageErr("update position", err)
}

// ListPositionsByState retrieves positions in the given state, optionally
// filtered by pair
func (r *Repository) ListPositionsByState(ctx context.Context, state position.State, pair string) ([]position.Position, error) {
	query := `
		SELECT id, state, strategy, side, pair, volume, starting_price,
		       completed_txids, send_ref, current_tx_id, detail
		FROM positions
		WHERE state = $1
	`
	args := []interface{}{string(state)}
	if pair != "" {
		query += ` AND pair = $2`
		args = append(args, pair)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list positions", err)
	}
	defer rows.Close()

	var positions []position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, storageErr("list positions", err)
		}
		positions = append(positions, p)
	}
	return positions, storageErr("list positions", rows.Err())
}

// ListPositions retrieves every stored position, newest first
func (r *Repository) ListPositions(ctx context.Context) ([]position.Position, error) {
	query := `
		SELECT id, state, strategy, side, pair, volume, starting_price,
		       completed_txids, send_ref, current_tx_id, detail
		FROM positions
		ORDER BY created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, storageErr("list positions", err)
	}
	defer rows.Close()

	var positions []position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, storageErr("list positions", err)
		}
		positions = append(positions, p)
	}
	return positions, storageErr("list positions", rows.Err())
}

func scanPosition(row pgx.Row) (position.Position, error) {
	var (
		p             position.Position
		state, side   string
		strategy      []byte
		completed     []byte
		startingPrice *float64
		sendRef       *string
		currentTxID   *string
		detail        *string
	)

	err := row.Scan(&p.ID, &state, &strategy, &side, &p.Pair, &p.Volume,
		&startingPrice, &completed, &sendRef, &currentTxID, &detail)
	if err != nil {
		return position.Position{}, err
	}

	p.State = position.State(state)
	p.Side = kraken.OrderSide(side)
	if err := json.Unmarshal(strategy, &p.Strategy); err != nil {
		return position.Position{}, fmt.Errorf("unmarshal strategy: %w", err)
	}
	if err := json.Unmarshal(completed, &p.Completed); err != nil {
		return position.Position{}, fmt.Errorf("unmarshal completed txids: %w", err)
	}
	if startingPrice != nil {
		p.StartingPrice = *startingPrice
	}
	if sendRef != nil {
		p.SendRef = *sendRef
	}
	if currentTxID != nil {
		p.CurrentTxID = *currentTxID
	}
	if detail != nil {
		p.Detail = *detail
	}
	return p, nil
}

// ============================================================================
// ORDER PIPELINE RECORDS
// ============================================================================

// AddUnsentOrder enqueues a not-yet-confirmed order submission
func (r *Repository) AddUnsentOrder(ctx context.Context, order trader.UnsentOrder) error {
	query := `
		INSERT INTO unsent_orders (ref, pair, side, order_type, volume, price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		order.Ref, order.Request.Pair, string(order.Request.Side),
		string(order.Request.Type), order.Request.Volume, nullString(order.Request.Price),
	)
	return storageErr("add unsent order", err)
}

// RemoveUnsentOrder deletes a resolved queue entry
func (r *Repository) RemoveUnsentOrder(ctx context.Context, ref int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM unsent_orders WHERE ref = $1`, ref)
	return storageErr("remove unsent order", err)
}

// ListUnsentOrders retrieves the submission queue in insertion order
func (r *Repository) ListUnsentOrders(ctx context.Context) ([]trader.UnsentOrder, error) {
	query := `
		SELECT ref, pair, side, order_type, volume, price, created_at
		FROM unsent_orders
		ORDER BY created_at, ref
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, storageErr("list unsent orders", err)
	}
	defer rows.Close()

	var orders []trader.UnsentOrder
	for rows.Next() {
		var (
			o           trader.UnsentOrder
			side, otype string
			price       *string
		)
		if err := rows.Scan(&o.Ref, &o.Request.Pair, &side, &otype,
			&o.Request.Volume, &price, &o.CreatedAt); err != nil {
			return nil, storageErr("list unsent orders", err)
		}
		o.Request.Side = kraken.OrderSide(side)
		o.Request.Type = kraken.OrderType(otype)
		if price != nil {
			o.Request.Price = *price
		}
		orders = append(orders, o)
	}
	return orders, storageErr("list unsent orders", rows.Err())
}

// AddSentOrder records the reference to transaction id correlation
func (r *Repository) AddSentOrder(ctx context.Context, order trader.SentOrder) error {
	var snapshot []byte
	if order.Order != nil {
		data, err := json.Marshal(order.Order)
		if err != nil {
			return storageErr("add sent order", err)
		}
		snapshot = data
	}

	query := `
		INSERT INTO sent_orders (ref, tx_id, order_snapshot)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO UPDATE SET tx_id = $2, order_snapshot = $3
	`
	_, err := r.db.Pool.Exec(ctx, query, order.Ref, order.TxID, snapshot)
	return storageErr("add sent order", err)
}

// FindSentOrderByRef retrieves a sent order by client reference, or nil
// when the reference has not resolved yet
func (r *Repository) FindSentOrderByRef(ctx context.Context, ref int64) (*trader.SentOrder, error) {
	query := `SELECT ref, tx_id, order_snapshot, created_at FROM sent_orders WHERE ref = $1`

	order, err := scanSentOrder(r.db.Pool.QueryRow(ctx, query, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find sent order", err)
	}
	return order, nil
}

// FindSentOrdersByTxIDs retrieves sent orders matching any of the given
// transaction ids
func (r *Repository) FindSentOrdersByTxIDs(ctx context.Context, txIDs []string) ([]trader.SentOrder, error) {
	if len(txIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ref, tx_id, order_snapshot, created_at FROM sent_orders WHERE tx_id = ANY($1)`

	rows, err := r.db.Pool.Query(ctx, query, txIDs)
	if err != nil {
		return nil, storageErr("find sent orders", err)
	}
	defer rows.Close()

	var orders []trader.SentOrder
	for rows.Next() {
		order, err := scanSentOrder(rows)
		if err != nil {
			return nil, storageErr("find sent orders", err)
		}
		orders = append(orders, *order)
	}
	return orders, storageErr("find sent orders", rows.Err())
}

func scanSentOrder(row pgx.Row) (*trader.SentOrder, error) {
	var (
		order    trader.SentOrder
		snapshot []byte
	)
	if err := row.Scan(&order.Ref, &order.TxID, &snapshot, &order.CreatedAt); err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		var o kraken.Order
		if err := json.Unmarshal(snapshot, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order snapshot: %w", err)
		}
		order.Order = &o
	}
	return &order, nil
}

// AddFailedOrder records a permanently rejected submission
func (r *Repository) AddFailedOrder(ctx context.Context, order trader.FailedOrder) error {
	query := `
		INSERT INTO failed_orders (ref, pair, side, order_type, volume, price, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ref) DO NOTHING
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		order.Ref, order.Request.Pair, string(order.Request.Side),
		string(order.Request.Type), order.Request.Volume,
		nullString(order.Request.Price), order.Error,
	)
	return storageErr("add failed order", err)
}

// FindFailedOrderError retrieves the error text recorded for a reference.
// Returns ok=false when no permanent failure is recorded.
func (r *Repository) FindFailedOrderError(ctx context.Context, ref int64) (string, bool, error) {
	var text string
	err := r.db.Pool.QueryRow(ctx, `SELECT error FROM failed_orders WHERE ref = $1`, ref).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("find failed order", err)
	}
	return text, true, nil
}

// AddPendingID records a reference with an ambiguous submission outcome
func (r *Repository) AddPendingID(ctx context.Context, entry trader.PendingIDEntry) error {
	query := `INSERT INTO pending_id_orders (ref) VALUES ($1) ON CONFLICT (ref) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, query, entry.Ref)
	return storageErr("add pending id", err)
}

// RemovePendingID deletes a resolved pending entry
func (r *Repository) RemovePendingID(ctx context.Context, ref int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM pending_id_orders WHERE ref = $1`, ref)
	return storageErr("remove pending id", err)
}

// ListPendingIDs retrieves all pending entries in insertion order
func (r *Repository) ListPendingIDs(ctx context.Context) ([]trader.PendingIDEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT ref, created_at FROM pending_id_orders ORDER BY created_at, ref`)
	if err != nil {
		return nil, storageErr("list pending ids", err)
	}
	defer rows.Close()

	var entries []trader.PendingIDEntry
	for rows.Next() {
		var entry trader.PendingIDEntry
		if err := rows.Scan(&entry.Ref, &entry.CreatedAt); err != nil {
			return nil, storageErr("list pending ids", err)
		}
		entries = append(entries, entry)
	}
	return entries, storageErr("list pending ids", rows.Err())
}

// ============================================================================
// COUNTERS & CONFIG
// ============================================================================

// IncrementCounter atomically increments a named counter and returns its
// pre-increment value. A missing counter starts at zero.
func (r *Repository) IncrementCounter(ctx context.Context, name string, by int64) (int64, error) {
	query := `
		INSERT INTO counters (name, value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + $2
		RETURNING counters.value - $2
	`
	var before int64
	if err := r.db.Pool.QueryRow(ctx, query, name, by).Scan(&before); err != nil {
		return 0, storageErr("increment counter", err)
	}
	return before, nil
}

// SeedCounter raises a counter to at least the given floor. Used at
// startup so a fresh database never issues nonces the exchange has
// already seen from a previous deployment.
func (r *Repository) SeedCounter(ctx context.Context, name string, floor int64) error {
	query := `
		INSERT INTO counters (name, value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = GREATEST(counters.value, $2)
	`
	_, err := r.db.Pool.Exec(ctx, query, name, floor)
	return storageErr("seed counter", err)
}

// GetConfigValue reads a keyed configuration value. Returns ok=false when
// the key does not exist.
func (r *Repository) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx, `SELECT value FROM config_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get config value", err)
	}
	return value, true, nil
}

// SetConfigValue writes a keyed configuration value
func (r *Repository) SetConfigValue(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO config_entries (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query, key, value)
	return storageErr("set config value", err)
}

// ============================================================================
// TICKERS
// ============================================================================

// StoreTicker appends one ticker observation
func (r *Repository) StoreTicker(ctx context.Context, ticker kraken.Ticker) error {
	query := `
		INSERT INTO tickers (pair, ask, ask_volume, bid, bid_volume, last_price, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		ticker.Pair, ticker.Ask, ticker.AskVolume, ticker.Bid,
		ticker.BidVolume, ticker.LastPrice, ticker.Timestamp,
	)
	return storageErr("store ticker", err)
}

// RecentTickers retrieves the latest observations for a pair, newest first
func (r *Repository) RecentTickers(ctx context.Context, pair string, limit int) ([]kraken.Ticker, error) {
	query := `
		SELECT pair, ask, ask_volume, bid, bid_volume, last_price, observed_at
		FROM tickers
		WHERE pair = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, pair, limit)
	if err != nil {
		return nil, storageErr("recent tickers", err)
	}
	defer rows.Close()

	var tickers []kraken.Ticker
	for rows.Next() {
		var t kraken.Ticker
		if err := rows.Scan(&t.Pair, &t.Ask, &t.AskVolume, &t.Bid,
			&t.BidVolume, &t.LastPrice, &t.Timestamp); err != nil {
			return nil, storageErr("recent tickers", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, storageErr("recent tickers", rows.Err())
}

// PruneTickers deletes observations older than the cutoff
func (r *Repository) PruneTickers(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM tickers WHERE observed_at < $1`, before)
	if err != nil {
		return 0, storageErr("prune tickers", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// USERS
// ============================================================================

// User is an API account for the status endpoints
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a new API user
func (r *Repository) CreateUser(ctx context.Context, username, passwordHash string) error {
	query := `INSERT INTO users (username, password_hash) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, query, username, passwordHash)
	return storageErr("create user", err)
}

// GetUserByUsername retrieves a user, or nil when not found
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`

	var user User
	err := r.db.Pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return &user, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
