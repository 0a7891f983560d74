/*
Package ledger provides the core points engine for the recognition platform.

PURPOSE:
  This package contains the domain types and algorithms for moving recognition
  points between employees: peer-to-peer gives (single and group), catalog
  redemptions, quota distribution, and the redemption fulfillment workflow.
  Every point movement is recorded as an immutable ledger transaction, written
  in the same storage transaction as the balance mutation it represents.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A whole, non-negative quantity carried as decimal.Decimal
  - User: An employee with a giving quota and a spendable points balance
  - RewardItem: A catalog entry with cost, stock, and active status
  - Transaction: An immutable ledger entry recording one point movement
  - Allocation: One recipient's share of a group give

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: decimal.Decimal end to end, no floating-point drift
  3. Type Safety: Strong typing for IDs prevents mixing user/reward/tx IDs
  4. Atomicity: Balance mutation + ledger append commit together or not at all

SEE ALSO:
  - engine.go: Give/Redeem/Adjust operations
  - workflow.go: Redemption request state machine
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Whole-number quantities, carried as decimals
// =============================================================================

// Points constructs a point amount from an integer count.
func Points(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// IsWholePositive reports whether d is a positive integer amount.
// Every give/redeem/adjust amount must satisfy this.
func IsWholePositive(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(0))
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type RewardID string
type TransactionID string
type RequestID string

// =============================================================================
// USER - Employee with quota and balance
// =============================================================================

// User is an employee record. QuotaRemaining caps what the employee may still
// give this period; PointsBalance is what they have received and can spend.
//
// INVARIANT: both fields are non-negative whole amounts at all times.
type User struct {
	ID           UserID
	Code         string // employee code, used for login
	Name         string
	Email        string
	BusinessUnit string
	Department   string
	Branch       string
	Role         string // "employee" or "admin"

	QuotaRemaining decimal.Decimal
	PointsBalance  decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the user may perform administrative operations.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

const (
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
)

// =============================================================================
// REWARD ITEM - Catalog entry
// =============================================================================

type RewardStatus string

const (
	RewardActive   RewardStatus = "active"
	RewardInactive RewardStatus = "inactive"
)

// RewardItem is a catalog reward. Stock is decremented on redemption and
// restored on rejection or return.
//
// INVARIANT: Stock never goes negative.
type RewardItem struct {
	ID         RewardID
	Name       string
	Category   string
	PointsCost decimal.Decimal
	Stock      int
	IsPhysical bool
	Status     RewardStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxGive       TransactionType = "give"       // Peer recognition (single or group)
	TxRedeem     TransactionType = "redeem"     // Catalog redemption
	TxAdjustment TransactionType = "adjustment" // Manual admin correction
	TxReversal   TransactionType = "reversal"   // Undo of a previous transaction
)

// Source records how a give was initiated.
type Source string

const (
	SourceManual Source = "manual"
	SourceQR     Source = "qr"
	SourceGroup  Source = "group"
)

// Allocation is one recipient's share of a group give.
type Allocation struct {
	ToUserID UserID
	Amount   decimal.Decimal
}

// Transaction records one point movement. Once written, type/parties/amount
// never change; corrections happen via reversal transactions.
type Transaction struct {
	ID         TransactionID
	Type       TransactionType
	FromUserID UserID // giver; empty for redeem/adjustment
	ToUserID   UserID // recipient or redeemer
	Amount     decimal.Decimal

	// Group gives carry the per-recipient split; Amount is the sum.
	Allocations []Allocation

	CategoryID  string
	Message     string
	Source      Source
	ReferenceID string // reward ID for redeems, original tx ID for reversals

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// QUOTA SETTINGS & DISTRIBUTION LOG
// =============================================================================

// QuotaSetting holds the default giving quota for a role.
type QuotaSetting struct {
	Role         string
	DefaultQuota decimal.Decimal
	UpdatedAt    time.Time
}

// QuotaDistribution records one bulk quota adjustment across a role.
// Negative amounts are clamped per user so no quota goes below zero.
type QuotaDistribution struct {
	ID            string
	Role          string
	Amount        decimal.Decimal
	AffectedUsers int
	AdminID       UserID
	CreatedAt     time.Time
}
