/*
engine.go - The points ledger engine

PURPOSE:
  Applies point movements to exactly the right balances, atomically with
  writing the immutable transaction record. Every operation follows the same
  discipline: validate fully, then commit everything inside one storage
  transaction, or commit nothing.

OPERATIONS:
  Give:          one giver, one recipient; quota down, balance up
  GroupGive:     one giver, N recipients; quota checked against the SUM before
                 any recipient is touched - all-or-nothing
  Redeem:        balance down, stock down, redemption request opened PENDING
  AdjustBalance: manual admin correction (signed delta)
  AdjustQuota:   bulk per-role quota distribution, clamped at zero on deduction

REVERSAL:
  reverseRedemption is the single primitive that undoes a redeem's ledger
  effect (refund points, restore one stock unit, append a reversal entry).
  Both workflow rejection and return go through it, so refund logic can
  never diverge.

SEE ALSO:
  - workflow.go: Redemption request lifecycle built on reverseRedemption
  - store.go: The TxStore contract the engine relies on
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies point movements. All mutations run inside Store.WithTx.
type Engine struct {
	Store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store}
}

// =============================================================================
// GIVE - Single recipient
// =============================================================================

// GiveInput describes a peer-to-peer give.
type GiveInput struct {
	FromUserID UserID
	ToUserID   UserID
	Amount     decimal.Decimal
	CategoryID string
	Message    string
	Source     Source
}

// Give moves Amount from the giver's quota to the recipient's balance and
// appends one give transaction. Either all three effects happen or none do.
func (e *Engine) Give(ctx context.Context, in GiveInput) (*Transaction, error) {
	if !IsWholePositive(in.Amount) {
		return nil, &ValidationError{Field: "amount", Message: "must be a positive whole number"}
	}
	if in.FromUserID == in.ToUserID {
		return nil, &ValidationError{Field: "to_user_id", Message: "cannot give points to yourself"}
	}
	if in.Source == "" {
		in.Source = SourceManual
	}

	var tx *Transaction
	err := e.Store.WithTx(ctx, func(st Store) error {
		from, err := mustGetUser(ctx, st, in.FromUserID)
		if err != nil {
			return err
		}
		to, err := mustGetUser(ctx, st, in.ToUserID)
		if err != nil {
			return err
		}

		if from.QuotaRemaining.LessThan(in.Amount) {
			return &InsufficientQuotaError{
				UserID:    from.ID,
				Available: from.QuotaRemaining,
				Requested: in.Amount,
			}
		}

		from.QuotaRemaining = from.QuotaRemaining.Sub(in.Amount)
		to.PointsBalance = to.PointsBalance.Add(in.Amount)
		if err := st.SaveUser(ctx, *from); err != nil {
			return err
		}
		if err := st.SaveUser(ctx, *to); err != nil {
			return err
		}

		tx = &Transaction{
			ID:         TransactionID(uuid.NewString()),
			Type:       TxGive,
			FromUserID: from.ID,
			ToUserID:   to.ID,
			Amount:     in.Amount,
			CategoryID: in.CategoryID,
			Message:    in.Message,
			Source:     in.Source,
			CreatedBy:  string(from.ID),
			CreatedAt:  time.Now().UTC(),
		}
		return st.AppendTransaction(ctx, *tx)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// =============================================================================
// GROUP GIVE - N recipients, one ledger record
// =============================================================================

// GroupGiveInput describes a give split across multiple recipients.
type GroupGiveInput struct {
	FromUserID  UserID
	Allocations []Allocation
	CategoryID  string
	Message     string
}

// GroupGive checks the giver's quota against the sum of all allocations
// before any recipient balance is touched. A mid-batch shortfall is
// impossible: the whole operation is one storage transaction producing one
// grouped ledger record, or it is rejected wholesale.
func (e *Engine) GroupGive(ctx context.Context, in GroupGiveInput) (*Transaction, error) {
	if len(in.Allocations) == 0 {
		return nil, &ValidationError{Field: "allocations", Message: "at least one recipient is required"}
	}

	total := decimal.Zero
	seen := make(map[UserID]bool, len(in.Allocations))
	for _, a := range in.Allocations {
		if !IsWholePositive(a.Amount) {
			return nil, &ValidationError{Field: "allocations", Message: "every amount must be a positive whole number"}
		}
		if a.ToUserID == in.FromUserID {
			return nil, &ValidationError{Field: "allocations", Message: "cannot give points to yourself"}
		}
		if seen[a.ToUserID] {
			return nil, &ValidationError{Field: "allocations", Message: fmt.Sprintf("duplicate recipient %s", a.ToUserID)}
		}
		seen[a.ToUserID] = true
		total = total.Add(a.Amount)
	}

	var tx *Transaction
	err := e.Store.WithTx(ctx, func(st Store) error {
		from, err := mustGetUser(ctx, st, in.FromUserID)
		if err != nil {
			return err
		}

		if from.QuotaRemaining.LessThan(total) {
			return &InsufficientQuotaError{
				UserID:    from.ID,
				Available: from.QuotaRemaining,
				Requested: total,
			}
		}

		// Load every recipient before mutating anything.
		recipients := make([]*User, len(in.Allocations))
		for i, a := range in.Allocations {
			to, err := mustGetUser(ctx, st, a.ToUserID)
			if err != nil {
				return err
			}
			recipients[i] = to
		}

		from.QuotaRemaining = from.QuotaRemaining.Sub(total)
		if err := st.SaveUser(ctx, *from); err != nil {
			return err
		}
		for i, a := range in.Allocations {
			recipients[i].PointsBalance = recipients[i].PointsBalance.Add(a.Amount)
			if err := st.SaveUser(ctx, *recipients[i]); err != nil {
				return err
			}
		}

		tx = &Transaction{
			ID:          TransactionID(uuid.NewString()),
			Type:        TxGive,
			FromUserID:  from.ID,
			Amount:      total,
			Allocations: in.Allocations,
			CategoryID:  in.CategoryID,
			Message:     in.Message,
			Source:      SourceGroup,
			CreatedBy:   string(from.ID),
			CreatedAt:   time.Now().UTC(),
		}
		return st.AppendTransaction(ctx, *tx)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// =============================================================================
// REDEEM - Balance down, stock down, request opened
// =============================================================================

// RedeemInput describes a catalog redemption.
type RedeemInput struct {
	UserID       UserID
	RewardID     RewardID
	ShippingType ShippingType
	Address      string
	Phone        string
}

// Redeem deducts the reward's cost from the user's balance, decrements stock
// by one, appends the redeem transaction, and opens a PENDING redemption
// request - all in one storage transaction. Failure modes (insufficient
// points, out of stock, inactive reward, missing shipping fields) are checked
// before any mutation.
func (e *Engine) Redeem(ctx context.Context, in RedeemInput) (*RedemptionRequest, error) {
	var req *RedemptionRequest
	err := e.Store.WithTx(ctx, func(st Store) error {
		user, err := mustGetUser(ctx, st, in.UserID)
		if err != nil {
			return err
		}
		reward, err := mustGetReward(ctx, st, in.RewardID)
		if err != nil {
			return err
		}

		if err := validateShipping(reward, in); err != nil {
			return err
		}
		if reward.Status != RewardActive {
			return fmt.Errorf("%w: %s", ErrRewardInactive, reward.ID)
		}
		if reward.Stock <= 0 {
			return fmt.Errorf("%w: %s", ErrOutOfStock, reward.ID)
		}
		if user.PointsBalance.LessThan(reward.PointsCost) {
			return &InsufficientPointsError{
				UserID:    user.ID,
				Available: user.PointsBalance,
				Requested: reward.PointsCost,
			}
		}

		user.PointsBalance = user.PointsBalance.Sub(reward.PointsCost)
		reward.Stock--
		if err := st.SaveUser(ctx, *user); err != nil {
			return err
		}
		if err := st.SaveReward(ctx, *reward); err != nil {
			return err
		}

		now := time.Now().UTC()
		tx := Transaction{
			ID:          TransactionID(uuid.NewString()),
			Type:        TxRedeem,
			ToUserID:    user.ID,
			Amount:      reward.PointsCost,
			ReferenceID: string(reward.ID),
			Source:      SourceManual,
			CreatedBy:   string(user.ID),
			CreatedAt:   now,
		}
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return err
		}

		shippingStatus := ShippingNotStarted
		if in.ShippingType == ShippingDigital {
			shippingStatus = ShippingNotRequired
		}
		req = &RedemptionRequest{
			ID:             RequestID(uuid.NewString()),
			UserID:         user.ID,
			RewardID:       reward.ID,
			TransactionID:  tx.ID,
			PointsUsed:     reward.PointsCost,
			Status:         RequestPending,
			ShippingType:   in.ShippingType,
			ShippingStatus: shippingStatus,
			Address:        in.Address,
			Phone:          in.Phone,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return st.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// validateShipping rejects redemptions whose fulfillment info cannot work:
// digital rewards ship digitally, physical rewards don't, and home delivery
// needs an address and a phone number.
func validateShipping(reward *RewardItem, in RedeemInput) error {
	switch in.ShippingType {
	case ShippingDigital:
		if reward.IsPhysical {
			return &ValidationError{Field: "shipping_type", Message: "physical reward requires pickup or delivery"}
		}
	case ShippingPickup:
		if !reward.IsPhysical {
			return &ValidationError{Field: "shipping_type", Message: "digital reward must use digital fulfillment"}
		}
	case ShippingDelivery:
		if !reward.IsPhysical {
			return &ValidationError{Field: "shipping_type", Message: "digital reward must use digital fulfillment"}
		}
		if in.Address == "" {
			return &ValidationError{Field: "address", Message: "required for delivery"}
		}
		if in.Phone == "" {
			return &ValidationError{Field: "phone", Message: "required for delivery"}
		}
	default:
		return &ValidationError{Field: "shipping_type", Message: "must be pickup, delivery, or digital"}
	}
	return nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// AdjustBalance applies a manual admin correction to a user's points balance.
// Delta is a signed whole amount; a deduction below zero is rejected.
// Adjustment entries are the only ledger records whose Amount carries a sign.
func (e *Engine) AdjustBalance(ctx context.Context, userID UserID, delta decimal.Decimal, reason string, adminID UserID) (*Transaction, error) {
	if delta.IsZero() || !delta.Equal(delta.Truncate(0)) {
		return nil, &ValidationError{Field: "delta", Message: "must be a non-zero whole number"}
	}

	var tx *Transaction
	err := e.Store.WithTx(ctx, func(st Store) error {
		user, err := mustGetUser(ctx, st, userID)
		if err != nil {
			return err
		}

		next := user.PointsBalance.Add(delta)
		if next.IsNegative() {
			return &InsufficientPointsError{
				UserID:    user.ID,
				Available: user.PointsBalance,
				Requested: delta.Neg(),
			}
		}

		user.PointsBalance = next
		if err := st.SaveUser(ctx, *user); err != nil {
			return err
		}

		tx = &Transaction{
			ID:        TransactionID(uuid.NewString()),
			Type:      TxAdjustment,
			ToUserID:  user.ID,
			Amount:    delta,
			Message:   reason,
			Source:    SourceManual,
			CreatedBy: string(adminID),
			CreatedAt: time.Now().UTC(),
		}
		return st.AppendTransaction(ctx, *tx)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// AdjustQuota bulk-adjusts the giving quota of every user with the given
// role. A positive amount adds unconditionally; a negative amount clamps each
// user's quota at zero rather than going negative. One distribution-log entry
// records the role, the amount, and the count of affected users.
func (e *Engine) AdjustQuota(ctx context.Context, role string, amount decimal.Decimal, adminID UserID) (*QuotaDistribution, error) {
	if amount.IsZero() || !amount.Equal(amount.Truncate(0)) {
		return nil, &ValidationError{Field: "amount", Message: "must be a non-zero whole number"}
	}

	var dist *QuotaDistribution
	err := e.Store.WithTx(ctx, func(st Store) error {
		users, err := st.ListUsersByRole(ctx, role)
		if err != nil {
			return err
		}

		for i := range users {
			next := users[i].QuotaRemaining.Add(amount)
			if next.IsNegative() {
				next = decimal.Zero
			}
			users[i].QuotaRemaining = next
			if err := st.SaveUser(ctx, users[i]); err != nil {
				return err
			}
		}

		dist = &QuotaDistribution{
			ID:            uuid.NewString(),
			Role:          role,
			Amount:        amount,
			AffectedUsers: len(users),
			AdminID:       adminID,
			CreatedAt:     time.Now().UTC(),
		}
		return st.SaveQuotaDistribution(ctx, *dist)
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// =============================================================================
// REVERSAL PRIMITIVE
// =============================================================================

// reverseRedemption undoes the ledger effect of the redeem transaction behind
// req: the points deducted at redemption time go back to the user, one stock
// unit goes back to the reward, and a reversal transaction referencing the
// original entry is appended. Runs against st, inside the caller's storage
// transaction. Rejection and return are the only callers.
func reverseRedemption(ctx context.Context, st Store, req *RedemptionRequest, reason string) error {
	user, err := mustGetUser(ctx, st, req.UserID)
	if err != nil {
		return err
	}
	reward, err := mustGetReward(ctx, st, req.RewardID)
	if err != nil {
		return err
	}

	user.PointsBalance = user.PointsBalance.Add(req.PointsUsed)
	reward.Stock++
	if err := st.SaveUser(ctx, *user); err != nil {
		return err
	}
	if err := st.SaveReward(ctx, *reward); err != nil {
		return err
	}

	return st.AppendTransaction(ctx, Transaction{
		ID:          TransactionID(uuid.NewString()),
		Type:        TxReversal,
		ToUserID:    user.ID,
		Amount:      req.PointsUsed,
		Message:     reason,
		ReferenceID: string(req.TransactionID),
		Source:      SourceManual,
		CreatedAt:   time.Now().UTC(),
	})
}

// =============================================================================
// LOOKUP HELPERS
// =============================================================================

func mustGetUser(ctx context.Context, st Store, id UserID) (*User, error) {
	u, err := st.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

func mustGetReward(ctx context.Context, st Store, id RewardID) (*RewardItem, error) {
	r, err := st.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRewardNotFound, id)
	}
	return r, nil
}
