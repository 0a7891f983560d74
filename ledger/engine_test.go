package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spark/kudos-engine/ledger"
	"github.com/spark/kudos-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	return ledger.NewEngine(st), st
}

func seedUser(t *testing.T, st *store.TxMemory, id string, quota, balance int64) ledger.User {
	t.Helper()
	u := ledger.User{
		ID:             ledger.UserID(id),
		Code:           "EMP-" + id,
		Name:           "User " + id,
		Role:           ledger.RoleEmployee,
		QuotaRemaining: ledger.Points(quota),
		PointsBalance:  ledger.Points(balance),
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}

func seedReward(t *testing.T, st *store.TxMemory, id string, cost int64, stock int, physical bool) ledger.RewardItem {
	t.Helper()
	r := ledger.RewardItem{
		ID:         ledger.RewardID(id),
		Name:       "Reward " + id,
		PointsCost: ledger.Points(cost),
		Stock:      stock,
		IsPhysical: physical,
		Status:     ledger.RewardActive,
	}
	require.NoError(t, st.SaveReward(context.Background(), r))
	return r
}

func userBalance(t *testing.T, st *store.TxMemory, id string) (quota, balance decimal.Decimal) {
	t.Helper()
	u, err := st.GetUser(context.Background(), ledger.UserID(id))
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.QuotaRemaining, u.PointsBalance
}

// =============================================================================
// GIVE
// =============================================================================

func TestGive_MovesQuotaToBalance(t *testing.T) {
	// GIVEN: Alice has 100 quota, Bob has 0 balance
	// WHEN: Alice gives Bob 30 points
	// THEN: Alice's quota is 70, Bob's balance is 30, one give tx recorded

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 100, 0)
	seedUser(t, st, "bob", 100, 0)

	tx, err := engine.Give(ctx, ledger.GiveInput{
		FromUserID: "alice",
		ToUserID:   "bob",
		Amount:     ledger.Points(30),
		CategoryID: "teamwork",
		Message:    "great sprint",
	})
	require.NoError(t, err)

	quota, _ := userBalance(t, st, "alice")
	_, balance := userBalance(t, st, "bob")
	assert.True(t, quota.Equal(ledger.Points(70)), "giver quota should drop to 70, got %v", quota)
	assert.True(t, balance.Equal(ledger.Points(30)), "recipient balance should rise to 30, got %v", balance)

	assert.Equal(t, ledger.TxGive, tx.Type)
	assert.Equal(t, ledger.UserID("alice"), tx.FromUserID)
	assert.Equal(t, ledger.UserID("bob"), tx.ToUserID)

	got, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "give transaction should be in the ledger")
}

func TestGive_InsufficientQuota_NothingChanges(t *testing.T) {
	// GIVEN: Alice has 10 quota left
	// WHEN: She tries to give 11
	// THEN: InsufficientQuotaError, and neither user was touched

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 10, 0)
	seedUser(t, st, "bob", 0, 5)

	_, err := engine.Give(ctx, ledger.GiveInput{
		FromUserID: "alice",
		ToUserID:   "bob",
		Amount:     ledger.Points(11),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientQuota))

	var qErr *ledger.InsufficientQuotaError
	require.True(t, errors.As(err, &qErr))
	assert.True(t, qErr.Available.Equal(ledger.Points(10)))
	assert.True(t, qErr.Requested.Equal(ledger.Points(11)))

	quota, _ := userBalance(t, st, "alice")
	_, balance := userBalance(t, st, "bob")
	assert.True(t, quota.Equal(ledger.Points(10)))
	assert.True(t, balance.Equal(ledger.Points(5)))

	txs, err := st.ListTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "failed give must not reach the ledger")
}

func TestGive_RejectsSelfAndFractionalAmounts(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 100, 0)
	seedUser(t, st, "bob", 100, 0)

	cases := []struct {
		name string
		in   ledger.GiveInput
	}{
		{"self give", ledger.GiveInput{FromUserID: "alice", ToUserID: "alice", Amount: ledger.Points(5)}},
		{"zero amount", ledger.GiveInput{FromUserID: "alice", ToUserID: "bob", Amount: ledger.Points(0)}},
		{"negative amount", ledger.GiveInput{FromUserID: "alice", ToUserID: "bob", Amount: ledger.Points(-5)}},
		{"fractional amount", ledger.GiveInput{FromUserID: "alice", ToUserID: "bob", Amount: decimal.NewFromFloat(2.5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Give(ctx, tc.in)
			assert.True(t, errors.Is(err, ledger.ErrValidation), "expected validation error, got %v", err)
		})
	}
}

func TestGive_UnknownRecipient(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 100, 0)

	_, err := engine.Give(ctx, ledger.GiveInput{
		FromUserID: "alice",
		ToUserID:   "ghost",
		Amount:     ledger.Points(5),
	})
	assert.True(t, errors.Is(err, ledger.ErrUserNotFound))

	quota, _ := userBalance(t, st, "alice")
	assert.True(t, quota.Equal(ledger.Points(100)), "quota must survive a failed give")
}

// =============================================================================
// GROUP GIVE
// =============================================================================

func TestGroupGive_OneRecordManyRecipients(t *testing.T) {
	// GIVEN: Alice has 100 quota and three teammates
	// WHEN: She splits 10+20+30 across them in one group give
	// THEN: One ledger record with three allocations; quota down by 60

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 100, 0)
	seedUser(t, st, "bob", 0, 0)
	seedUser(t, st, "carol", 0, 0)
	seedUser(t, st, "dave", 0, 0)

	tx, err := engine.GroupGive(ctx, ledger.GroupGiveInput{
		FromUserID: "alice",
		Allocations: []ledger.Allocation{
			{ToUserID: "bob", Amount: ledger.Points(10)},
			{ToUserID: "carol", Amount: ledger.Points(20)},
			{ToUserID: "dave", Amount: ledger.Points(30)},
		},
		Message: "launch week",
	})
	require.NoError(t, err)

	assert.True(t, tx.Amount.Equal(ledger.Points(60)))
	assert.Len(t, tx.Allocations, 3)
	assert.Equal(t, ledger.SourceGroup, tx.Source)

	quota, _ := userBalance(t, st, "alice")
	assert.True(t, quota.Equal(ledger.Points(40)))
	for id, want := range map[string]int64{"bob": 10, "carol": 20, "dave": 30} {
		_, balance := userBalance(t, st, id)
		assert.True(t, balance.Equal(ledger.Points(want)), "%s should have %d points", id, want)
	}

	txs, err := st.ListTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "a group give is exactly one ledger record")
}

func TestGroupGive_QuotaCheckedAgainstSum_FailsWholesale(t *testing.T) {
	// GIVEN: Alice has 40 quota
	// WHEN: She tries a group give of 5 recipients x 10 points (sum 50)
	// THEN: The whole operation fails; no recipient got anything

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 40, 0)
	recipients := []string{"r1", "r2", "r3", "r4", "r5"}
	var allocs []ledger.Allocation
	for _, id := range recipients {
		seedUser(t, st, id, 0, 0)
		allocs = append(allocs, ledger.Allocation{ToUserID: ledger.UserID(id), Amount: ledger.Points(10)})
	}

	_, err := engine.GroupGive(ctx, ledger.GroupGiveInput{FromUserID: "alice", Allocations: allocs})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientQuota))

	quota, _ := userBalance(t, st, "alice")
	assert.True(t, quota.Equal(ledger.Points(40)))
	for _, id := range recipients {
		_, balance := userBalance(t, st, id)
		assert.True(t, balance.IsZero(), "%s must not receive points from a failed group give", id)
	}
}

func TestGroupGive_DuplicateRecipientRejected(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 100, 0)
	seedUser(t, st, "bob", 0, 0)

	_, err := engine.GroupGive(ctx, ledger.GroupGiveInput{
		FromUserID: "alice",
		Allocations: []ledger.Allocation{
			{ToUserID: "bob", Amount: ledger.Points(10)},
			{ToUserID: "bob", Amount: ledger.Points(5)},
		},
	})
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestGroupGive_UnknownRecipientRollsBack(t *testing.T) {
	// GIVEN: A batch where the third recipient does not exist
	// WHEN: The group give runs
	// THEN: Even the valid recipients keep their old balances

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 100, 0)
	seedUser(t, st, "bob", 0, 0)

	_, err := engine.GroupGive(ctx, ledger.GroupGiveInput{
		FromUserID: "alice",
		Allocations: []ledger.Allocation{
			{ToUserID: "bob", Amount: ledger.Points(10)},
			{ToUserID: "ghost", Amount: ledger.Points(10)},
		},
	})
	assert.True(t, errors.Is(err, ledger.ErrUserNotFound))

	quota, _ := userBalance(t, st, "alice")
	_, balance := userBalance(t, st, "bob")
	assert.True(t, quota.Equal(ledger.Points(100)))
	assert.True(t, balance.IsZero())
}

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_DeductsBalanceAndStock_OpensPendingRequest(t *testing.T) {
	// GIVEN: Bob has 500 points; a mug costs 200 with 3 in stock
	// WHEN: Bob redeems it for pickup
	// THEN: Balance 300, stock 2, a PENDING request tied to the redeem tx

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 500)
	seedReward(t, st, "mug", 200, 3, true)

	req, err := engine.Redeem(ctx, ledger.RedeemInput{
		UserID:       "bob",
		RewardID:     "mug",
		ShippingType: ledger.ShippingPickup,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.RequestPending, req.Status)
	assert.Equal(t, ledger.ShippingNotStarted, req.ShippingStatus)
	assert.True(t, req.PointsUsed.Equal(ledger.Points(200)))
	assert.NotEmpty(t, req.TransactionID)

	_, balance := userBalance(t, st, "bob")
	assert.True(t, balance.Equal(ledger.Points(300)))

	reward, err := st.GetReward(ctx, "mug")
	require.NoError(t, err)
	assert.Equal(t, 2, reward.Stock)

	tx, err := st.GetTransaction(ctx, req.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, ledger.TxRedeem, tx.Type)
	assert.Equal(t, "mug", tx.ReferenceID)
}

func TestRedeem_LastUnit_SecondAttemptOutOfStock(t *testing.T) {
	// GIVEN: One unit left and two buyers with enough points
	// WHEN: Both redeem in sequence
	// THEN: First succeeds, second gets ErrOutOfStock and keeps their points

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 500)
	seedUser(t, st, "carol", 0, 500)
	seedReward(t, st, "mug", 200, 1, true)

	_, err := engine.Redeem(ctx, ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: ledger.ShippingPickup})
	require.NoError(t, err)

	_, err = engine.Redeem(ctx, ledger.RedeemInput{UserID: "carol", RewardID: "mug", ShippingType: ledger.ShippingPickup})
	assert.True(t, errors.Is(err, ledger.ErrOutOfStock))

	_, balance := userBalance(t, st, "carol")
	assert.True(t, balance.Equal(ledger.Points(500)), "loser of the last unit keeps their points")
}

func TestRedeem_InactiveReward(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 500)
	r := seedReward(t, st, "mug", 200, 3, true)
	r.Status = ledger.RewardInactive
	require.NoError(t, st.SaveReward(ctx, r))

	_, err := engine.Redeem(ctx, ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: ledger.ShippingPickup})
	assert.True(t, errors.Is(err, ledger.ErrRewardInactive))
}

func TestRedeem_InsufficientPoints(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 150)
	seedReward(t, st, "mug", 200, 3, true)

	_, err := engine.Redeem(ctx, ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: ledger.ShippingPickup})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientPoints))

	var pErr *ledger.InsufficientPointsError
	require.True(t, errors.As(err, &pErr))
	assert.True(t, pErr.Available.Equal(ledger.Points(150)))

	reward, err := st.GetReward(ctx, "mug")
	require.NoError(t, err)
	assert.Equal(t, 3, reward.Stock, "stock untouched by a failed redeem")
}

func TestRedeem_ShippingValidation(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 1000)
	seedReward(t, st, "mug", 200, 3, true)
	seedReward(t, st, "gift-card", 100, 3, false)

	cases := []struct {
		name string
		in   ledger.RedeemInput
	}{
		{"delivery without address", ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: ledger.ShippingDelivery, Phone: "555-0100"}},
		{"delivery without phone", ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: ledger.ShippingDelivery, Address: "1 Main St"}},
		{"physical reward shipped digitally", ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: ledger.ShippingDigital}},
		{"digital reward picked up", ledger.RedeemInput{UserID: "bob", RewardID: "gift-card", ShippingType: ledger.ShippingPickup}},
		{"unknown shipping type", ledger.RedeemInput{UserID: "bob", RewardID: "mug", ShippingType: "carrier-pigeon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Redeem(ctx, tc.in)
			assert.True(t, errors.Is(err, ledger.ErrValidation), "expected validation error, got %v", err)
		})
	}
}

func TestRedeem_DigitalReward_ShippingNotRequired(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 500)
	seedReward(t, st, "gift-card", 100, 5, false)

	req, err := engine.Redeem(ctx, ledger.RedeemInput{UserID: "bob", RewardID: "gift-card", ShippingType: ledger.ShippingDigital})
	require.NoError(t, err)
	assert.Equal(t, ledger.ShippingNotRequired, req.ShippingStatus)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjustBalance_SignedDelta(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 100)

	tx, err := engine.AdjustBalance(ctx, "bob", ledger.Points(-40), "duplicate award", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxAdjustment, tx.Type)
	assert.True(t, tx.Amount.Equal(ledger.Points(-40)))
	assert.Equal(t, "admin-1", tx.CreatedBy)

	_, balance := userBalance(t, st, "bob")
	assert.True(t, balance.Equal(ledger.Points(60)))
}

func TestAdjustBalance_CannotGoNegative(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "bob", 0, 30)

	_, err := engine.AdjustBalance(ctx, "bob", ledger.Points(-31), "oops", "admin-1")
	assert.True(t, errors.Is(err, ledger.ErrInsufficientPoints))

	_, balance := userBalance(t, st, "bob")
	assert.True(t, balance.Equal(ledger.Points(30)))
}

func TestAdjustQuota_ClampsAtZero(t *testing.T) {
	// GIVEN: Two employees, quotas 50 and 10
	// WHEN: An admin distributes -30 to the employee role
	// THEN: Quotas become 20 and 0 (never negative); one distribution logged

	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 50, 0)
	seedUser(t, st, "bob", 10, 0)

	dist, err := engine.AdjustQuota(ctx, ledger.RoleEmployee, ledger.Points(-30), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, dist.AffectedUsers)

	aliceQuota, _ := userBalance(t, st, "alice")
	bobQuota, _ := userBalance(t, st, "bob")
	assert.True(t, aliceQuota.Equal(ledger.Points(20)))
	assert.True(t, bobQuota.IsZero(), "deduction clamps at zero, got %v", bobQuota)

	dists, err := st.ListQuotaDistributions(ctx)
	require.NoError(t, err)
	require.Len(t, dists, 1)
	assert.Equal(t, ledger.RoleEmployee, dists[0].Role)

	txs, err := st.ListTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "quota distribution is not a ledger event")
}

func TestAdjustQuota_AddsToEveryUserInRole(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seedUser(t, st, "alice", 0, 0)
	admin := seedUser(t, st, "root", 0, 0)
	admin.Role = ledger.RoleAdmin
	require.NoError(t, st.SaveUser(ctx, admin))

	dist, err := engine.AdjustQuota(ctx, ledger.RoleEmployee, ledger.Points(100), "root")
	require.NoError(t, err)
	assert.Equal(t, 1, dist.AffectedUsers, "only the employee role is touched")

	aliceQuota, _ := userBalance(t, st, "alice")
	rootQuota, _ := userBalance(t, st, "root")
	assert.True(t, aliceQuota.Equal(ledger.Points(100)))
	assert.True(t, rootQuota.IsZero())
}
