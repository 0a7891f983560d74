/*
store.go - Persistence interfaces for the points engine

PURPOSE:
  Defines the boundary between domain logic and the database. The engine and
  workflow never touch SQL; they operate on a Store handed to them inside a
  storage transaction.

KEY INTERFACES:
  Store:   Entity reads/writes plus the append-only transaction log
  TxStore: Store with WithTx for atomic multi-row operations

ATOMICITY CONTRACT:
  Every engine/workflow operation runs as ONE WithTx call. Read-check-write
  sequences for a given user's balances or a reward's stock are never
  interleaved with another such sequence: the SQLite implementation serializes
  writers, and a production PostgreSQL port would use row-level transactions.

APPEND-ONLY CONTRACT:
  AppendTransaction is the only write to the ledger. No update, no delete.
  Corrections are reversal transactions referencing the original entry.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests and demos
*/
package ledger

import "context"

// =============================================================================
// STORE - Entity state + append-only ledger
// =============================================================================

// Store handles persistence for users, rewards, the transaction ledger,
// redemption requests, and quota bookkeeping.
type Store interface {
	// Users
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByCode(ctx context.Context, code string) (*User, error)
	SaveUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByRole(ctx context.Context, role string) ([]User, error)
	// DeleteUser fails with ErrHasHistory while transactions reference the user.
	DeleteUser(ctx context.Context, id UserID) error

	// Rewards
	GetReward(ctx context.Context, id RewardID) (*RewardItem, error)
	SaveReward(ctx context.Context, item RewardItem) error
	ListRewards(ctx context.Context) ([]RewardItem, error)
	// DeleteReward fails with ErrHasHistory while redemptions reference the reward.
	DeleteReward(ctx context.Context, id RewardID) error

	// Ledger (append-only)
	AppendTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
	ListTransactionsByUser(ctx context.Context, id UserID) ([]Transaction, error)

	// Redemption requests
	SaveRequest(ctx context.Context, r RedemptionRequest) error
	GetRequest(ctx context.Context, id RequestID) (*RedemptionRequest, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]RedemptionRequest, error)
	ListRequestsByUser(ctx context.Context, id UserID) ([]RedemptionRequest, error)

	// Quota bookkeeping
	GetQuotaSetting(ctx context.Context, role string) (*QuotaSetting, error)
	SaveQuotaSetting(ctx context.Context, s QuotaSetting) error
	SaveQuotaDistribution(ctx context.Context, d QuotaDistribution) error
	ListQuotaDistributions(ctx context.Context) ([]QuotaDistribution, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
//
// WithTx executes fn against a Store view bound to one storage transaction.
// If fn returns an error the transaction is rolled back and nothing fn wrote
// is visible; otherwise it is committed. Engine and Workflow require a TxStore
// so balance mutations and ledger appends can never diverge.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
