/*
Package reports derives read-side views from the points ledger.

PURPOSE:
  Aggregates the immutable transaction log into summaries an admin dashboard
  needs: platform KPIs, giver/receiver leaderboards, and a CSV export of the
  transaction history. Everything here is a pure read - no invariant lives in
  this package, and nothing it computes is written back.

AGGREGATION RULES:
  - Points given: sum of give transactions (group gives count once, at the
    summed amount)
  - Points redeemed: sum of redeem transactions, NOT netted against reversals;
    reversals are tracked separately so a refund doesn't erase the history
  - Leaderboards: gives attribute to the giver and to each recipient; group
    gives attribute each allocation to its own recipient

SEE ALSO:
  - ledger/store.go: The Store this package reads from
*/
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spark/kudos-engine/ledger"
)

// Reporter computes aggregations over a Store.
type Reporter struct {
	Store ledger.Store
}

func NewReporter(store ledger.Store) *Reporter {
	return &Reporter{Store: store}
}

// =============================================================================
// SUMMARY KPIs
// =============================================================================

// Summary holds the dashboard headline numbers.
type Summary struct {
	TotalUsers          int             `json:"total_users"`
	TotalPointsGiven    decimal.Decimal `json:"total_points_given"`
	TotalPointsRedeemed decimal.Decimal `json:"total_points_redeemed"`
	TotalPointsReversed decimal.Decimal `json:"total_points_reversed"`
	TransactionCount    int             `json:"transaction_count"`
	PendingRedemptions  int             `json:"pending_redemptions"`
	ActiveRewards       int             `json:"active_rewards"`
}

// Summarize scans the full ledger and current entity state.
func (r *Reporter) Summarize(ctx context.Context) (*Summary, error) {
	users, err := r.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := r.Store.ListTransactions(ctx, 0)
	if err != nil {
		return nil, err
	}
	pending, err := r.Store.ListRequests(ctx, ledger.RequestPending)
	if err != nil {
		return nil, err
	}
	rewards, err := r.Store.ListRewards(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		TotalUsers:          len(users),
		TotalPointsGiven:    decimal.Zero,
		TotalPointsRedeemed: decimal.Zero,
		TotalPointsReversed: decimal.Zero,
		TransactionCount:    len(txs),
		PendingRedemptions:  len(pending),
	}
	for _, reward := range rewards {
		if reward.Status == ledger.RewardActive {
			s.ActiveRewards++
		}
	}
	for _, tx := range txs {
		switch tx.Type {
		case ledger.TxGive:
			s.TotalPointsGiven = s.TotalPointsGiven.Add(tx.Amount)
		case ledger.TxRedeem:
			s.TotalPointsRedeemed = s.TotalPointsRedeemed.Add(tx.Amount)
		case ledger.TxReversal:
			s.TotalPointsReversed = s.TotalPointsReversed.Add(tx.Amount)
		}
	}
	return s, nil
}

// =============================================================================
// LEADERBOARDS
// =============================================================================

// LeaderboardEntry is one user's rank on a leaderboard.
type LeaderboardEntry struct {
	UserID ledger.UserID   `json:"user_id"`
	Name   string          `json:"name"`
	Points decimal.Decimal `json:"points"`
	Count  int             `json:"count"`
}

// TopReceivers returns the users who received the most give points, best
// first. Adjustments and redemptions don't count; recognition is what the
// board measures.
func (r *Reporter) TopReceivers(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return r.leaderboard(ctx, limit, func(tx ledger.Transaction, add func(ledger.UserID, decimal.Decimal)) {
		if tx.Type != ledger.TxGive {
			return
		}
		if len(tx.Allocations) > 0 {
			for _, a := range tx.Allocations {
				add(a.ToUserID, a.Amount)
			}
			return
		}
		add(tx.ToUserID, tx.Amount)
	})
}

// TopGivers returns the users who gave the most points, best first. A group
// give counts once for the giver, at its full summed amount.
func (r *Reporter) TopGivers(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return r.leaderboard(ctx, limit, func(tx ledger.Transaction, add func(ledger.UserID, decimal.Decimal)) {
		if tx.Type != ledger.TxGive || tx.FromUserID == "" {
			return
		}
		add(tx.FromUserID, tx.Amount)
	})
}

func (r *Reporter) leaderboard(ctx context.Context, limit int, attribute func(ledger.Transaction, func(ledger.UserID, decimal.Decimal))) ([]LeaderboardEntry, error) {
	txs, err := r.Store.ListTransactions(ctx, 0)
	if err != nil {
		return nil, err
	}

	totals := make(map[ledger.UserID]*LeaderboardEntry)
	add := func(id ledger.UserID, amount decimal.Decimal) {
		if id == "" {
			return
		}
		e, ok := totals[id]
		if !ok {
			e = &LeaderboardEntry{UserID: id, Points: decimal.Zero}
			totals[id] = e
		}
		e.Points = e.Points.Add(amount)
		e.Count++
	}
	for _, tx := range txs {
		attribute(tx, add)
	}

	entries := make([]LeaderboardEntry, 0, len(totals))
	for _, e := range totals {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Points.Equal(entries[j].Points) {
			return entries[i].Points.GreaterThan(entries[j].Points)
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	// Resolve display names in one pass.
	users, err := r.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[ledger.UserID]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	for i := range entries {
		entries[i].Name = names[entries[i].UserID]
	}
	return entries, nil
}

// =============================================================================
// CSV EXPORT
// =============================================================================

// ExportTransactionsCSV streams the full transaction history as CSV with a
// header row: date, type, from, to, amount, message. Group gives expand to one
// row per allocation so the per-recipient split survives the export.
func (r *Reporter) ExportTransactionsCSV(ctx context.Context, w io.Writer) error {
	txs, err := r.Store.ListTransactions(ctx, 0)
	if err != nil {
		return err
	}
	users, err := r.Store.ListUsers(ctx)
	if err != nil {
		return err
	}
	names := make(map[ledger.UserID]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	// Deleted users keep their ID in the export.
	name := func(id ledger.UserID) string {
		if id == "" {
			return ""
		}
		if n, ok := names[id]; ok {
			return n
		}
		return string(id)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "type", "from", "to", "amount", "message"}); err != nil {
		return err
	}
	for _, tx := range txs {
		if len(tx.Allocations) > 0 {
			for _, a := range tx.Allocations {
				if err := cw.Write([]string{
					tx.CreatedAt.Format(time.RFC3339),
					string(tx.Type),
					name(tx.FromUserID),
					name(a.ToUserID),
					a.Amount.String(),
					tx.Message,
				}); err != nil {
					return err
				}
			}
			continue
		}
		if err := cw.Write([]string{
			tx.CreatedAt.Format(time.RFC3339),
			string(tx.Type),
			name(tx.FromUserID),
			name(tx.ToUserID),
			tx.Amount.String(),
			tx.Message,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
