package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spark/kudos-engine/ledger"
	"github.com/spark/kudos-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func saveTestUser(t *testing.T, st *sqlite.Store, id string, quota, balance int64) ledger.User {
	t.Helper()
	u := ledger.User{
		ID:             ledger.UserID(id),
		Code:           "EMP-" + id,
		Name:           "User " + id,
		Email:          id + "@example.com",
		Department:     "engineering",
		Role:           ledger.RoleEmployee,
		QuotaRemaining: ledger.Points(quota),
		PointsBalance:  ledger.Points(balance),
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}

// =============================================================================
// USERS
// =============================================================================

func TestUsers_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	saveTestUser(t, st, "alice", 100, 25)

	got, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "EMP-alice", got.Code)
	assert.Equal(t, "engineering", got.Department)
	assert.True(t, got.QuotaRemaining.Equal(ledger.Points(100)))
	assert.True(t, got.PointsBalance.Equal(ledger.Points(25)))
	assert.False(t, got.CreatedAt.IsZero())

	byCode, err := st.GetUserByCode(ctx, "EMP-alice")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, ledger.UserID("alice"), byCode.ID)
}

func TestUsers_MissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	got, err := st.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUsers_SaveIsUpsert(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := saveTestUser(t, st, "alice", 100, 0)

	u.PointsBalance = ledger.Points(42)
	require.NoError(t, st.SaveUser(ctx, u))

	got, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.PointsBalance.Equal(ledger.Points(42)))

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1, "upsert must not duplicate the row")
}

func TestUsers_DeleteRefusedWhileLedgerReferences(t *testing.T) {
	// GIVEN: Alice appears in a ledger transaction
	// WHEN: Deleting her record
	// THEN: ErrHasHistory; the row survives

	ctx := context.Background()
	st := newTestStore(t)
	saveTestUser(t, st, "alice", 100, 0)
	saveTestUser(t, st, "bob", 100, 0)

	require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
		ID:         "tx-1",
		Type:       ledger.TxGive,
		FromUserID: "alice",
		ToUserID:   "bob",
		Amount:     ledger.Points(10),
		CreatedAt:  time.Now().UTC(),
	}))

	err := st.DeleteUser(ctx, "alice")
	assert.True(t, errors.Is(err, ledger.ErrHasHistory))
	err = st.DeleteUser(ctx, "bob")
	assert.True(t, errors.Is(err, ledger.ErrHasHistory))

	got, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestUsers_DeleteRefusedForGroupAllocation(t *testing.T) {
	// A recipient hidden inside a group give's allocations also counts as history.

	ctx := context.Background()
	st := newTestStore(t)
	saveTestUser(t, st, "alice", 100, 0)
	saveTestUser(t, st, "carol", 0, 0)

	require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
		ID:         "tx-group",
		Type:       ledger.TxGive,
		FromUserID: "alice",
		Amount:     ledger.Points(10),
		Allocations: []ledger.Allocation{
			{ToUserID: "carol", Amount: ledger.Points(10)},
		},
		Source:    ledger.SourceGroup,
		CreatedAt: time.Now().UTC(),
	}))

	err := st.DeleteUser(ctx, "carol")
	assert.True(t, errors.Is(err, ledger.ErrHasHistory))
}

func TestUsers_DeleteWithoutHistory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	saveTestUser(t, st, "alice", 100, 0)

	require.NoError(t, st.DeleteUser(ctx, "alice"))
	got, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.True(t, errors.Is(st.DeleteUser(ctx, "alice"), ledger.ErrUserNotFound))
}

// =============================================================================
// LEDGER
// =============================================================================

func TestTransactions_GroupAllocationsSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
		ID:         "tx-group",
		Type:       ledger.TxGive,
		FromUserID: "alice",
		Amount:     ledger.Points(30),
		Allocations: []ledger.Allocation{
			{ToUserID: "bob", Amount: ledger.Points(10)},
			{ToUserID: "carol", Amount: ledger.Points(20)},
		},
		Source:    ledger.SourceGroup,
		Message:   "launch week",
		CreatedBy: "alice",
		CreatedAt: time.Now().UTC(),
	}))

	got, err := st.GetTransaction(ctx, "tx-group")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, ledger.UserID("bob"), got.Allocations[0].ToUserID)
	assert.True(t, got.Allocations[1].Amount.Equal(ledger.Points(20)))
	assert.Equal(t, ledger.SourceGroup, got.Source)
}

func TestTransactions_ListByUserSeesAllRoles(t *testing.T) {
	// Giver, direct recipient, and group-allocation recipient all see the tx.

	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
		ID: "t1", Type: ledger.TxGive, FromUserID: "alice", ToUserID: "bob",
		Amount: ledger.Points(5), CreatedAt: now,
	}))
	require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
		ID: "t2", Type: ledger.TxGive, FromUserID: "dave", Amount: ledger.Points(5),
		Allocations: []ledger.Allocation{{ToUserID: "bob", Amount: ledger.Points(5)}},
		Source:      ledger.SourceGroup, CreatedAt: now.Add(time.Second),
	}))
	require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
		ID: "t3", Type: ledger.TxGive, FromUserID: "dave", ToUserID: "erin",
		Amount: ledger.Points(5), CreatedAt: now.Add(2 * time.Second),
	}))

	txs, err := st.ListTransactionsByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TransactionID("t2"), txs[0].ID, "newest first")
	assert.Equal(t, ledger.TransactionID("t1"), txs[1].ID)
}

func TestTransactions_ListRespectsLimit(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendTransaction(ctx, ledger.Transaction{
			ID:        ledger.TransactionID(string(rune('a' + i))),
			Type:      ledger.TxGive,
			Amount:    ledger.Points(1),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	txs, err := st.ListTransactions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.Equal(t, ledger.TransactionID("e"), txs[0].ID)
}

// =============================================================================
// WITHX ATOMICITY
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction body that writes a user, a ledger entry, and fails
	// WHEN: WithTx returns the error
	// THEN: Neither write is visible

	ctx := context.Background()
	st := newTestStore(t)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(s ledger.Store) error {
		if err := s.SaveUser(ctx, ledger.User{
			ID: "alice", Code: "EMP-alice", Name: "Alice",
			Role:           ledger.RoleEmployee,
			QuotaRemaining: ledger.Points(100),
			PointsBalance:  ledger.Points(0),
		}); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, ledger.Transaction{
			ID: "tx-1", Type: ledger.TxGive, Amount: ledger.Points(1), CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, u, "rolled-back user must not exist")

	tx, err := st.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, tx, "rolled-back transaction must not exist")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	err := st.WithTx(ctx, func(s ledger.Store) error {
		return s.SaveUser(ctx, ledger.User{
			ID: "alice", Code: "EMP-alice", Name: "Alice",
			Role:           ledger.RoleEmployee,
			QuotaRemaining: ledger.Points(100),
			PointsBalance:  ledger.Points(0),
		})
	})
	require.NoError(t, err)

	u, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestEngine_WorksAgainstSQLite(t *testing.T) {
	// The engine's atomicity contract holds on the real store, not just the
	// in-memory one.

	ctx := context.Background()
	st := newTestStore(t)
	engine := ledger.NewEngine(st)
	saveTestUser(t, st, "alice", 100, 0)
	saveTestUser(t, st, "bob", 0, 0)

	_, err := engine.Give(ctx, ledger.GiveInput{
		FromUserID: "alice", ToUserID: "bob", Amount: ledger.Points(30),
	})
	require.NoError(t, err)

	bob, err := st.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.PointsBalance.Equal(ledger.Points(30)))

	_, err = engine.Give(ctx, ledger.GiveInput{
		FromUserID: "alice", ToUserID: "bob", Amount: ledger.Points(71),
	})
	assert.True(t, errors.Is(err, ledger.ErrInsufficientQuota))

	alice, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.QuotaRemaining.Equal(ledger.Points(70)), "failed give must not leak quota")
}

// =============================================================================
// REDEMPTION REQUESTS
// =============================================================================

func TestRequests_RoundTripWithTimestamps(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	req := ledger.RedemptionRequest{
		ID:             "req-1",
		UserID:         "bob",
		RewardID:       "mug",
		TransactionID:  "tx-1",
		PointsUsed:     ledger.Points(200),
		Status:         ledger.RequestApproved,
		ShippingType:   ledger.ShippingDelivery,
		ShippingStatus: ledger.ShippingShipped,
		Address:        "1 Main St",
		Phone:          "555-0100",
		Carrier:        "DHL",
		TrackingNumber: "TRACK-9",
		ApprovedBy:     "admin-1",
		ApprovedAt:     &now,
		ShippedAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, st.SaveRequest(ctx, req))

	got, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.ShippingShipped, got.ShippingStatus)
	assert.Equal(t, "TRACK-9", got.TrackingNumber)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(now))
	assert.Nil(t, got.DeliveredAt)
	assert.True(t, got.PointsUsed.Equal(ledger.Points(200)))
}

func TestRequests_ListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	for i, status := range []ledger.RequestStatus{
		ledger.RequestPending, ledger.RequestPending, ledger.RequestRejected,
	} {
		require.NoError(t, st.SaveRequest(ctx, ledger.RedemptionRequest{
			ID:             ledger.RequestID(string(rune('a' + i))),
			UserID:         "bob",
			RewardID:       "mug",
			TransactionID:  "tx",
			PointsUsed:     ledger.Points(10),
			Status:         status,
			ShippingType:   ledger.ShippingPickup,
			ShippingStatus: ledger.ShippingNotStarted,
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
			UpdatedAt:      now,
		}))
	}

	pending, err := st.ListRequests(ctx, ledger.RequestPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := st.ListRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =============================================================================
// REWARDS & QUOTA
// =============================================================================

func TestRewards_DeleteRefusedWhileRedemptionsExist(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveReward(ctx, ledger.RewardItem{
		ID: "mug", Name: "Mug", PointsCost: ledger.Points(200), Stock: 3,
		IsPhysical: true, Status: ledger.RewardActive,
	}))
	require.NoError(t, st.SaveRequest(ctx, ledger.RedemptionRequest{
		ID: "req-1", UserID: "bob", RewardID: "mug", TransactionID: "tx-1",
		PointsUsed: ledger.Points(200), Status: ledger.RequestPending,
		ShippingType: ledger.ShippingPickup, ShippingStatus: ledger.ShippingNotStarted,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	assert.True(t, errors.Is(st.DeleteReward(ctx, "mug"), ledger.ErrHasHistory))
	assert.True(t, errors.Is(st.DeleteReward(ctx, "ghost"), ledger.ErrRewardNotFound))
}

func TestQuotaSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	missing, err := st.GetQuotaSetting(ctx, ledger.RoleEmployee)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.SaveQuotaSetting(ctx, ledger.QuotaSetting{
		Role: ledger.RoleEmployee, DefaultQuota: ledger.Points(100),
	}))
	require.NoError(t, st.SaveQuotaSetting(ctx, ledger.QuotaSetting{
		Role: ledger.RoleEmployee, DefaultQuota: ledger.Points(150),
	}))

	got, err := st.GetQuotaSetting(ctx, ledger.RoleEmployee)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.DefaultQuota.Equal(ledger.Points(150)), "save is an upsert")
}

// =============================================================================
// NEWS
// =============================================================================

func TestNews_CRUDAndPublishFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.SaveNews(ctx, sqlite.News{
		ID: "n1", Title: "Welcome", Body: "hello", CreatedBy: "admin-1",
	}))
	require.NoError(t, st.SaveNews(ctx, sqlite.News{
		ID: "n2", Title: "Q3 winners", Body: "congrats", Published: true,
		PublishedAt: &now, CreatedBy: "admin-1",
	}))

	all, err := st.ListNews(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	published, err := st.ListNews(ctx, true)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "Q3 winners", published[0].Title)
	require.NotNil(t, published[0].PublishedAt)

	got, err := st.GetNews(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	got.Title = "Welcome aboard"
	require.NoError(t, st.SaveNews(ctx, *got))

	updated, err := st.GetNews(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome aboard", updated.Title)

	require.NoError(t, st.DeleteNews(ctx, "n1"))
	gone, err := st.GetNews(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
