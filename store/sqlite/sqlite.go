/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite, plus the plain CRUD
  records (news posts) that never pass through the points engine. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

APPEND-ONLY ENFORCEMENT:
  The transactions table is append-only:
  - No UPDATE statements on transactions
  - No DELETE statements on transactions
  - Corrections via reversal transactions only

KEY TABLES:
  users:                Employee records with quota and balance
  rewards:              Catalog entries with cost and stock
  transactions:         Immutable ledger of all point movements
  redemption_requests:  Approval/fulfillment state per redemption
  quota_settings:       Default giving quota per role
  quota_distributions:  Log of bulk quota adjustments
  news:                 Announcement posts (plain CRUD)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/kudos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/spark/kudos-engine/ledger"
)

// Store implements ledger.TxStore plus news CRUD using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (employees)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT,
		business_unit TEXT,
		department TEXT,
		branch TEXT,
		role TEXT NOT NULL DEFAULT 'employee',
		quota_remaining TEXT NOT NULL,
		points_balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	-- Rewards catalog
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT,
		points_cost TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		is_physical BOOLEAN NOT NULL DEFAULT TRUE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		from_user_id TEXT,
		to_user_id TEXT,
		amount TEXT NOT NULL,
		allocations_json TEXT,
		category_id TEXT,
		message TEXT,
		source TEXT,
		reference_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_from_user
		ON transactions(from_user_id) WHERE from_user_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_to_user
		ON transactions(to_user_id) WHERE to_user_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(tx_type);

	-- Redemption requests (approval + fulfillment workflow)
	CREATE TABLE IF NOT EXISTS redemption_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		reward_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		points_used TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		shipping_type TEXT NOT NULL,
		shipping_status TEXT NOT NULL,
		address TEXT,
		phone TEXT,
		carrier TEXT,
		tracking_number TEXT,
		digital_code TEXT,
		note TEXT,
		approved_by TEXT,
		approved_at TEXT,
		shipped_at TEXT,
		delivered_at TEXT,
		returned_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_user ON redemption_requests(user_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON redemption_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_reward ON redemption_requests(reward_id);

	-- Quota settings (default per role)
	CREATE TABLE IF NOT EXISTS quota_settings (
		role TEXT PRIMARY KEY,
		default_quota TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Quota distribution log
	CREATE TABLE IF NOT EXISTS quota_distributions (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		amount TEXT NOT NULL,
		affected_users INTEGER NOT NULL,
		admin_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_distributions_created_at
		ON quota_distributions(created_at DESC);

	-- News posts (plain CRUD, no ledger involvement)
	CREATE TABLE IF NOT EXISTS news (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT,
		image_url TEXT,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		published_at TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_news_published ON news(published, published_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query helpers can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, code, name, email, business_unit, department, branch, role,
	quota_remaining, points_balance, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q dbtx, id ledger.UserID) (*ledger.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (s *Store) GetUserByCode(ctx context.Context, code string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUserByCode(ctx, s.db, code)
}

func getUserByCode(ctx context.Context, q dbtx, code string) (*ledger.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE code = ?", code)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*ledger.User, error) {
	var (
		u                    ledger.User
		email, bu, dep, br   sql.NullString
		quota, balance       string
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.Code, &u.Name, &email, &bu, &dep, &br, &u.Role,
		&quota, &balance, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Email = email.String
	u.BusinessUnit = bu.String
	u.Department = dep.String
	u.Branch = br.String
	u.QuotaRemaining = parseDecimal(quota)
	u.PointsBalance = parseDecimal(balance)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, q dbtx, u ledger.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			email = excluded.email,
			business_unit = excluded.business_unit,
			department = excluded.department,
			branch = excluded.branch,
			role = excluded.role,
			quota_remaining = excluded.quota_remaining,
			points_balance = excluded.points_balance,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := q.ExecContext(ctx, query,
		u.ID, u.Code, u.Name, u.Email, u.BusinessUnit, u.Department, u.Branch, u.Role,
		u.QuotaRemaining.String(), u.PointsBalance.String(),
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryUsers(ctx, s.db, "SELECT "+userColumns+" FROM users ORDER BY code")
}

func (s *Store) ListUsersByRole(ctx context.Context, role string) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsersByRole(ctx, s.db, role)
}

func listUsersByRole(ctx context.Context, q dbtx, role string) ([]ledger.User, error) {
	return queryUsers(ctx, q, "SELECT "+userColumns+" FROM users WHERE role = ? ORDER BY code", role)
}

func queryUsers(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var (
			u                    ledger.User
			email, bu, dep, br   sql.NullString
			quota, balance       string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&u.ID, &u.Code, &u.Name, &email, &bu, &dep, &br, &u.Role,
			&quota, &balance, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		u.BusinessUnit = bu.String
		u.Department = dep.String
		u.Branch = br.String
		u.QuotaRemaining = parseDecimal(quota)
		u.PointsBalance = parseDecimal(balance)
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteUser(ctx, s.db, id)
}

func deleteUser(ctx context.Context, q dbtx, id ledger.UserID) error {
	var exists int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ledger.ErrUserNotFound
	}

	// Ledger history pins the user: transactions are immutable and must keep
	// resolving their parties. Group-give shares live inside allocations_json.
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE from_user_id = ? OR to_user_id = ?
		   OR (allocations_json IS NOT NULL AND instr(allocations_json, ?) > 0)
	`, id, id, fmt.Sprintf("%q", string(id))).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ledger.ErrHasHistory
	}

	_, err = q.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	return err
}

// =============================================================================
// REWARDS
// =============================================================================

const rewardColumns = `id, name, category, points_cost, stock, is_physical, status, created_at, updated_at`

func (s *Store) GetReward(ctx context.Context, id ledger.RewardID) (*ledger.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReward(ctx, s.db, id)
}

func getReward(ctx context.Context, q dbtx, id ledger.RewardID) (*ledger.RewardItem, error) {
	var (
		r                    ledger.RewardItem
		category             sql.NullString
		cost                 string
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT "+rewardColumns+" FROM rewards WHERE id = ?", id,
	).Scan(&r.ID, &r.Name, &category, &cost, &r.Stock, &r.IsPhysical, &r.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reward: %w", err)
	}
	r.Category = category.String
	r.PointsCost = parseDecimal(cost)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

func (s *Store) SaveReward(ctx context.Context, item ledger.RewardItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveReward(ctx, s.db, item)
}

func saveReward(ctx context.Context, q dbtx, item ledger.RewardItem) error {
	query := `
		INSERT INTO rewards (` + rewardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			points_cost = excluded.points_cost,
			stock = excluded.stock,
			is_physical = excluded.is_physical,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := q.ExecContext(ctx, query,
		item.ID, item.Name, item.Category, item.PointsCost.String(),
		item.Stock, item.IsPhysical, item.Status,
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListRewards(ctx context.Context) ([]ledger.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRewards(ctx, s.db)
}

func listRewards(ctx context.Context, q dbtx) ([]ledger.RewardItem, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+rewardColumns+" FROM rewards ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var items []ledger.RewardItem
	for rows.Next() {
		var (
			r                    ledger.RewardItem
			category             sql.NullString
			cost                 string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.Name, &category, &cost, &r.Stock, &r.IsPhysical,
			&r.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		r.Category = category.String
		r.PointsCost = parseDecimal(cost)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *Store) DeleteReward(ctx context.Context, id ledger.RewardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteReward(ctx, s.db, id)
}

func deleteReward(ctx context.Context, q dbtx, id ledger.RewardID) error {
	var exists int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM rewards WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ledger.ErrRewardNotFound
	}

	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM redemption_requests WHERE reward_id = ?", id,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ledger.ErrHasHistory
	}

	_, err = q.ExecContext(ctx, "DELETE FROM rewards WHERE id = ?", id)
	return err
}

// =============================================================================
// TRANSACTIONS (append-only ledger)
// =============================================================================

const txColumns = `id, tx_type, from_user_id, to_user_id, amount, allocations_json,
	category_id, message, source, reference_id, created_by, created_at`

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, q dbtx, tx ledger.Transaction) error {
	var allocationsJSON sql.NullString
	if len(tx.Allocations) > 0 {
		raw, err := json.Marshal(encodeAllocations(tx.Allocations))
		if err != nil {
			return fmt.Errorf("failed to encode allocations: %w", err)
		}
		allocationsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO transactions (` + txColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		tx.ID, tx.Type,
		nullString(string(tx.FromUserID)), nullString(string(tx.ToUserID)),
		tx.Amount.String(), allocationsJSON,
		nullString(tx.CategoryID), nullString(tx.Message), nullString(string(tx.Source)),
		nullString(tx.ReferenceID), nullString(tx.CreatedBy),
		tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q dbtx, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, q, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, limit)
}

func listTransactions(ctx context.Context, q dbtx, limit int) ([]ledger.Transaction, error) {
	query := "SELECT " + txColumns + " FROM transactions ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		return queryTransactions(ctx, q, query+" LIMIT ?", limit)
	}
	return queryTransactions(ctx, q, query)
}

func (s *Store) ListTransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactionsByUser(ctx, s.db, id)
}

func listTransactionsByUser(ctx context.Context, q dbtx, id ledger.UserID) ([]ledger.Transaction, error) {
	query := `
		SELECT ` + txColumns + ` FROM transactions
		WHERE from_user_id = ? OR to_user_id = ?
		   OR (allocations_json IS NOT NULL AND instr(allocations_json, ?) > 0)
		ORDER BY created_at DESC, id DESC
	`
	return queryTransactions(ctx, q, query, id, id, fmt.Sprintf("%q", string(id)))
}

func queryTransactions(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                                        ledger.Transaction
		fromUser, toUser                          sql.NullString
		amount                                    string
		allocationsJSON                           sql.NullString
		categoryID, message, source, referenceID  sql.NullString
		createdBy                                 sql.NullString
		createdAt                                 string
	)

	err := rows.Scan(&tx.ID, &tx.Type, &fromUser, &toUser, &amount, &allocationsJSON,
		&categoryID, &message, &source, &referenceID, &createdBy, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.FromUserID = ledger.UserID(fromUser.String)
	tx.ToUserID = ledger.UserID(toUser.String)
	tx.Amount = parseDecimal(amount)
	tx.CategoryID = categoryID.String
	tx.Message = message.String
	tx.Source = ledger.Source(source.String)
	tx.ReferenceID = referenceID.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if allocationsJSON.Valid && allocationsJSON.String != "" {
		var encoded []allocationRow
		if err := json.Unmarshal([]byte(allocationsJSON.String), &encoded); err != nil {
			return tx, fmt.Errorf("failed to decode allocations: %w", err)
		}
		tx.Allocations = decodeAllocations(encoded)
	}

	return tx, nil
}

// allocationRow is the JSON shape for one group-give share.
type allocationRow struct {
	ToUserID string `json:"to_user_id"`
	Amount   string `json:"amount"`
}

func encodeAllocations(allocs []ledger.Allocation) []allocationRow {
	rows := make([]allocationRow, len(allocs))
	for i, a := range allocs {
		rows[i] = allocationRow{ToUserID: string(a.ToUserID), Amount: a.Amount.String()}
	}
	return rows
}

func decodeAllocations(rows []allocationRow) []ledger.Allocation {
	allocs := make([]ledger.Allocation, len(rows))
	for i, r := range rows {
		allocs[i] = ledger.Allocation{ToUserID: ledger.UserID(r.ToUserID), Amount: parseDecimal(r.Amount)}
	}
	return allocs
}

// =============================================================================
// REDEMPTION REQUESTS
// =============================================================================

const requestColumns = `id, user_id, reward_id, transaction_id, points_used, status,
	shipping_type, shipping_status, address, phone, carrier, tracking_number,
	digital_code, note, approved_by, approved_at, shipped_at, delivered_at,
	returned_at, created_at, updated_at`

func (s *Store) SaveRequest(ctx context.Context, r ledger.RedemptionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRequest(ctx, s.db, r)
}

func saveRequest(ctx context.Context, q dbtx, r ledger.RedemptionRequest) error {
	query := `
		INSERT INTO redemption_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			shipping_status = excluded.shipping_status,
			carrier = excluded.carrier,
			tracking_number = excluded.tracking_number,
			digital_code = excluded.digital_code,
			note = excluded.note,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			shipped_at = excluded.shipped_at,
			delivered_at = excluded.delivered_at,
			returned_at = excluded.returned_at,
			updated_at = excluded.updated_at
	`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.UserID, r.RewardID, r.TransactionID, r.PointsUsed.String(), r.Status,
		r.ShippingType, r.ShippingStatus,
		nullString(r.Address), nullString(r.Phone),
		nullString(r.Carrier), nullString(r.TrackingNumber),
		nullString(r.DigitalCode), nullString(r.Note),
		nullString(string(r.ApprovedBy)),
		nullTime(r.ApprovedAt), nullTime(r.ShippedAt), nullTime(r.DeliveredAt), nullTime(r.ReturnedAt),
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id ledger.RequestID) (*ledger.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q dbtx, id ledger.RequestID) (*ledger.RedemptionRequest, error) {
	reqs, err := queryRequests(ctx, q, "SELECT "+requestColumns+" FROM redemption_requests WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

func (s *Store) ListRequests(ctx context.Context, status ledger.RequestStatus) ([]ledger.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, status)
}

func listRequests(ctx context.Context, q dbtx, status ledger.RequestStatus) ([]ledger.RedemptionRequest, error) {
	if status == "" {
		return queryRequests(ctx, q,
			"SELECT "+requestColumns+" FROM redemption_requests ORDER BY created_at DESC")
	}
	return queryRequests(ctx, q,
		"SELECT "+requestColumns+" FROM redemption_requests WHERE status = ? ORDER BY created_at DESC", status)
}

func (s *Store) ListRequestsByUser(ctx context.Context, id ledger.UserID) ([]ledger.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequestsByUser(ctx, s.db, id)
}

func listRequestsByUser(ctx context.Context, q dbtx, id ledger.UserID) ([]ledger.RedemptionRequest, error) {
	return queryRequests(ctx, q,
		"SELECT "+requestColumns+" FROM redemption_requests WHERE user_id = ? ORDER BY created_at DESC", id)
}

func queryRequests(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.RedemptionRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var reqs []ledger.RedemptionRequest
	for rows.Next() {
		var (
			r                                              ledger.RedemptionRequest
			pointsUsed                                     string
			address, phone, carrier, tracking, code, note  sql.NullString
			approvedBy                                     sql.NullString
			approvedAt, shippedAt, deliveredAt, returnedAt sql.NullString
			createdAt, updatedAt                           string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.RewardID, &r.TransactionID, &pointsUsed, &r.Status,
			&r.ShippingType, &r.ShippingStatus, &address, &phone, &carrier, &tracking,
			&code, &note, &approvedBy, &approvedAt, &shippedAt, &deliveredAt,
			&returnedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.PointsUsed = parseDecimal(pointsUsed)
		r.Address = address.String
		r.Phone = phone.String
		r.Carrier = carrier.String
		r.TrackingNumber = tracking.String
		r.DigitalCode = code.String
		r.Note = note.String
		r.ApprovedBy = ledger.UserID(approvedBy.String)
		r.ApprovedAt = parseNullTime(approvedAt)
		r.ShippedAt = parseNullTime(shippedAt)
		r.DeliveredAt = parseNullTime(deliveredAt)
		r.ReturnedAt = parseNullTime(returnedAt)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// =============================================================================
// QUOTA SETTINGS & DISTRIBUTIONS
// =============================================================================

func (s *Store) GetQuotaSetting(ctx context.Context, role string) (*ledger.QuotaSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getQuotaSetting(ctx, s.db, role)
}

func getQuotaSetting(ctx context.Context, q dbtx, role string) (*ledger.QuotaSetting, error) {
	var (
		setting   ledger.QuotaSetting
		quota     string
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT role, default_quota, updated_at FROM quota_settings WHERE role = ?", role,
	).Scan(&setting.Role, &quota, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	setting.DefaultQuota = parseDecimal(quota)
	setting.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &setting, nil
}

func (s *Store) SaveQuotaSetting(ctx context.Context, setting ledger.QuotaSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveQuotaSetting(ctx, s.db, setting)
}

func saveQuotaSetting(ctx context.Context, q dbtx, setting ledger.QuotaSetting) error {
	query := `
		INSERT INTO quota_settings (role, default_quota, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			default_quota = excluded.default_quota,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		setting.Role, setting.DefaultQuota.String(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) SaveQuotaDistribution(ctx context.Context, d ledger.QuotaDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveQuotaDistribution(ctx, s.db, d)
}

func saveQuotaDistribution(ctx context.Context, q dbtx, d ledger.QuotaDistribution) error {
	query := `
		INSERT INTO quota_distributions (id, role, amount, affected_users, admin_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		d.ID, d.Role, d.Amount.String(), d.AffectedUsers, nullString(string(d.AdminID)),
		d.CreatedAt.Format(time.RFC3339))
	return err
}

func (s *Store) ListQuotaDistributions(ctx context.Context) ([]ledger.QuotaDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listQuotaDistributions(ctx, s.db)
}

func listQuotaDistributions(ctx context.Context, q dbtx) ([]ledger.QuotaDistribution, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, role, amount, affected_users, admin_id, created_at
		FROM quota_distributions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dists []ledger.QuotaDistribution
	for rows.Next() {
		var (
			d         ledger.QuotaDistribution
			amount    string
			adminID   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.Role, &amount, &d.AffectedUsers, &adminID, &createdAt); err != nil {
			return nil, err
		}
		d.Amount = parseDecimal(amount)
		d.AdminID = ledger.UserID(adminID.String)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		dists = append(dists, d)
	}
	return dists, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every Store call through one *sql.Tx. The parent's mutex is
// held for the duration of WithTx, so no locking here.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) GetUserByCode(ctx context.Context, code string) (*ledger.User, error) {
	return getUserByCode(ctx, ts.tx, code)
}

func (ts *txStore) SaveUser(ctx context.Context, u ledger.User) error {
	return saveUser(ctx, ts.tx, u)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return queryUsers(ctx, ts.tx, "SELECT "+userColumns+" FROM users ORDER BY code")
}

func (ts *txStore) ListUsersByRole(ctx context.Context, role string) ([]ledger.User, error) {
	return listUsersByRole(ctx, ts.tx, role)
}

func (ts *txStore) DeleteUser(ctx context.Context, id ledger.UserID) error {
	return deleteUser(ctx, ts.tx, id)
}

func (ts *txStore) GetReward(ctx context.Context, id ledger.RewardID) (*ledger.RewardItem, error) {
	return getReward(ctx, ts.tx, id)
}

func (ts *txStore) SaveReward(ctx context.Context, item ledger.RewardItem) error {
	return saveReward(ctx, ts.tx, item)
}

func (ts *txStore) ListRewards(ctx context.Context) ([]ledger.RewardItem, error) {
	return listRewards(ctx, ts.tx)
}

func (ts *txStore) DeleteReward(ctx context.Context, id ledger.RewardID) error {
	return deleteReward(ctx, ts.tx, id)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) ListTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, limit)
}

func (ts *txStore) ListTransactionsByUser(ctx context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	return listTransactionsByUser(ctx, ts.tx, id)
}

func (ts *txStore) SaveRequest(ctx context.Context, r ledger.RedemptionRequest) error {
	return saveRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id ledger.RequestID) (*ledger.RedemptionRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequests(ctx context.Context, status ledger.RequestStatus) ([]ledger.RedemptionRequest, error) {
	return listRequests(ctx, ts.tx, status)
}

func (ts *txStore) ListRequestsByUser(ctx context.Context, id ledger.UserID) ([]ledger.RedemptionRequest, error) {
	return listRequestsByUser(ctx, ts.tx, id)
}

func (ts *txStore) GetQuotaSetting(ctx context.Context, role string) (*ledger.QuotaSetting, error) {
	return getQuotaSetting(ctx, ts.tx, role)
}

func (ts *txStore) SaveQuotaSetting(ctx context.Context, setting ledger.QuotaSetting) error {
	return saveQuotaSetting(ctx, ts.tx, setting)
}

func (ts *txStore) SaveQuotaDistribution(ctx context.Context, d ledger.QuotaDistribution) error {
	return saveQuotaDistribution(ctx, ts.tx, d)
}

func (ts *txStore) ListQuotaDistributions(ctx context.Context) ([]ledger.QuotaDistribution, error) {
	return listQuotaDistributions(ctx, ts.tx)
}

// =============================================================================
// NEWS STORE
// =============================================================================

// News is an announcement post. Pure CRUD; the ledger never sees these.
type News struct {
	ID          string
	Title       string
	Body        string
	ImageURL    string
	Published   bool
	PublishedAt *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaveNews inserts or updates a news post.
func (s *Store) SaveNews(ctx context.Context, n News) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO news (id, title, body, image_url, published, published_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			image_url = excluded.image_url,
			published = excluded.published,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.Title, n.Body, n.ImageURL, n.Published, nullTime(n.PublishedAt),
		n.CreatedBy, createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// GetNews retrieves a news post by ID.
func (s *Store) GetNews(ctx context.Context, id string) (*News, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		n                    News
		publishedAt          sql.NullString
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, image_url, published, published_at, created_by, created_at, updated_at
		FROM news WHERE id = ?
	`, id).Scan(&n.ID, &n.Title, &n.Body, &n.ImageURL, &n.Published, &publishedAt,
		&n.CreatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.PublishedAt = parseNullTime(publishedAt)
	n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &n, nil
}

// ListNews returns news posts, optionally only published ones, newest first.
func (s *Store) ListNews(ctx context.Context, publishedOnly bool) ([]News, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, title, body, image_url, published, published_at, created_by, created_at, updated_at
		FROM news
	`
	if publishedOnly {
		query += " WHERE published = TRUE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []News
	for rows.Next() {
		var (
			n                    News
			publishedAt          sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.ImageURL, &n.Published,
			&publishedAt, &n.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		n.PublishedAt = parseNullTime(publishedAt)
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		posts = append(posts, n)
	}
	return posts, rows.Err()
}

// DeleteNews removes a news post.
func (s *Store) DeleteNews(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM news WHERE id = ?", id)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "redemption_requests", "quota_distributions",
		"quota_settings", "rewards", "users", "news"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
