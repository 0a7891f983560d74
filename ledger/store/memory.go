// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/spark/kudos-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	users         map[ledger.UserID]ledger.User
	usersByCode   map[string]ledger.UserID
	rewards       map[ledger.RewardID]ledger.RewardItem
	transactions  []ledger.Transaction
	txByID        map[ledger.TransactionID]int
	requests      map[ledger.RequestID]ledger.RedemptionRequest
	quotaSettings map[string]ledger.QuotaSetting
	distributions []ledger.QuotaDistribution
}

func NewMemory() *Memory {
	return &Memory{
		users:         make(map[ledger.UserID]ledger.User),
		usersByCode:   make(map[string]ledger.UserID),
		rewards:       make(map[ledger.RewardID]ledger.RewardItem),
		txByID:        make(map[ledger.TransactionID]int),
		requests:      make(map[ledger.RequestID]ledger.RedemptionRequest),
		quotaSettings: make(map[string]ledger.QuotaSetting),
	}
}

// ----- Users -----

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id), nil
}

func (m *Memory) getUserLocked(id ledger.UserID) *ledger.User {
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (m *Memory) GetUserByCode(_ context.Context, code string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByCode[code]
	if !ok {
		return nil, nil
	}
	return m.getUserLocked(id), nil
}

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUserLocked(u)
}

func (m *Memory) saveUserLocked(u ledger.User) error {
	if prev, ok := m.users[u.ID]; ok && prev.Code != u.Code {
		delete(m.usersByCode, prev.Code)
	}
	m.users[u.ID] = u
	m.usersByCode[u.Code] = u.ID
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) ListUsersByRole(_ context.Context, role string) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersByRoleLocked(role), nil
}

func (m *Memory) listUsersByRoleLocked(role string) []ledger.User {
	var out []ledger.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Memory) DeleteUser(_ context.Context, id ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteUserLocked(id)
}

func (m *Memory) deleteUserLocked(id ledger.UserID) error {
	u, ok := m.users[id]
	if !ok {
		return ledger.ErrUserNotFound
	}
	for _, tx := range m.transactions {
		if m.txTouchesUser(tx, id) {
			return ledger.ErrHasHistory
		}
	}
	delete(m.usersByCode, u.Code)
	delete(m.users, id)
	return nil
}

func (m *Memory) txTouchesUser(tx ledger.Transaction, id ledger.UserID) bool {
	if tx.FromUserID == id || tx.ToUserID == id {
		return true
	}
	for _, a := range tx.Allocations {
		if a.ToUserID == id {
			return true
		}
	}
	return false
}

// ----- Rewards -----

func (m *Memory) GetReward(_ context.Context, id ledger.RewardID) (*ledger.RewardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRewardLocked(id), nil
}

func (m *Memory) getRewardLocked(id ledger.RewardID) *ledger.RewardItem {
	r, ok := m.rewards[id]
	if !ok {
		return nil
	}
	return &r
}

func (m *Memory) SaveReward(_ context.Context, item ledger.RewardItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[item.ID] = item
	return nil
}

func (m *Memory) ListRewards(_ context.Context) ([]ledger.RewardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.RewardItem, 0, len(m.rewards))
	for _, r := range m.rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteReward(_ context.Context, id ledger.RewardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRewardLocked(id)
}

func (m *Memory) deleteRewardLocked(id ledger.RewardID) error {
	if _, ok := m.rewards[id]; !ok {
		return ledger.ErrRewardNotFound
	}
	for _, req := range m.requests {
		if req.RewardID == id {
			return ledger.ErrHasHistory
		}
	}
	delete(m.rewards, id)
	return nil
}

// ----- Ledger (append-only) -----

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	m.txByID[tx.ID] = len(m.transactions)
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.txByID[id]
	if !ok {
		return nil, nil
	}
	tx := m.transactions[i]
	return &tx, nil
}

func (m *Memory) ListTransactions(_ context.Context, limit int) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Newest first.
	out := make([]ledger.Transaction, 0, len(m.transactions))
	for i := len(m.transactions) - 1; i >= 0; i-- {
		out = append(out, m.transactions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListTransactionsByUser(_ context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.txTouchesUser(m.transactions[i], id) {
			out = append(out, m.transactions[i])
		}
	}
	return out, nil
}

// ----- Redemption requests -----

func (m *Memory) SaveRequest(_ context.Context, r ledger.RedemptionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id ledger.RequestID) (*ledger.RedemptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id), nil
}

func (m *Memory) getRequestLocked(id ledger.RequestID) *ledger.RedemptionRequest {
	r, ok := m.requests[id]
	if !ok {
		return nil
	}
	return &r
}

func (m *Memory) ListRequests(_ context.Context, status ledger.RequestStatus) ([]ledger.RedemptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.RedemptionRequest
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *Memory) ListRequestsByUser(_ context.Context, id ledger.UserID) ([]ledger.RedemptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.RedemptionRequest
	for _, r := range m.requests {
		if r.UserID == id {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func sortRequests(rs []ledger.RedemptionRequest) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
}

// ----- Quota bookkeeping -----

func (m *Memory) GetQuotaSetting(_ context.Context, role string) (*ledger.QuotaSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.quotaSettings[role]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) SaveQuotaSetting(_ context.Context, s ledger.QuotaSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaSettings[s.Role] = s
	return nil
}

func (m *Memory) SaveQuotaDistribution(_ context.Context, d ledger.QuotaDistribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distributions = append(m.distributions, d)
	return nil
}

func (m *Memory) ListQuotaDistributions(_ context.Context) ([]ledger.QuotaDistribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.QuotaDistribution, len(m.distributions))
	copy(out, m.distributions)
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:         make(map[ledger.UserID]ledger.User, len(tm.users)),
		usersByCode:   make(map[string]ledger.UserID, len(tm.usersByCode)),
		rewards:       make(map[ledger.RewardID]ledger.RewardItem, len(tm.rewards)),
		txByID:        make(map[ledger.TransactionID]int, len(tm.txByID)),
		requests:      make(map[ledger.RequestID]ledger.RedemptionRequest, len(tm.requests)),
		quotaSettings: make(map[string]ledger.QuotaSetting, len(tm.quotaSettings)),
	}
	for k, v := range tm.users {
		s.users[k] = v
	}
	for k, v := range tm.usersByCode {
		s.usersByCode[k] = v
	}
	for k, v := range tm.rewards {
		s.rewards[k] = v
	}
	for k, v := range tm.txByID {
		s.txByID[k] = v
	}
	for k, v := range tm.requests {
		s.requests[k] = v
	}
	for k, v := range tm.quotaSettings {
		s.quotaSettings[k] = v
	}
	s.transactions = append([]ledger.Transaction{}, tm.transactions...)
	s.distributions = append([]ledger.QuotaDistribution{}, tm.distributions...)
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.users = s.users
	tm.usersByCode = s.usersByCode
	tm.rewards = s.rewards
	tm.transactions = s.transactions
	tm.txByID = s.txByID
	tm.requests = s.requests
	tm.quotaSettings = s.quotaSettings
	tm.distributions = s.distributions
}

type memorySnapshot struct {
	users         map[ledger.UserID]ledger.User
	usersByCode   map[string]ledger.UserID
	rewards       map[ledger.RewardID]ledger.RewardItem
	transactions  []ledger.Transaction
	txByID        map[ledger.TransactionID]int
	requests      map[ledger.RequestID]ledger.RedemptionRequest
	quotaSettings map[string]ledger.QuotaSetting
	distributions []ledger.QuotaDistribution
}

// txMemoryView operates on the parent's state while the WithTx mutex is held,
// so it bypasses the public locking methods.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	return tv.parent.getUserLocked(id), nil
}

func (tv *txMemoryView) GetUserByCode(_ context.Context, code string) (*ledger.User, error) {
	id, ok := tv.parent.usersByCode[code]
	if !ok {
		return nil, nil
	}
	return tv.parent.getUserLocked(id), nil
}

func (tv *txMemoryView) SaveUser(_ context.Context, u ledger.User) error {
	return tv.parent.saveUserLocked(u)
}

func (tv *txMemoryView) ListUsers(_ context.Context) ([]ledger.User, error) {
	out := make([]ledger.User, 0, len(tv.parent.users))
	for _, u := range tv.parent.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tv *txMemoryView) ListUsersByRole(_ context.Context, role string) ([]ledger.User, error) {
	return tv.parent.listUsersByRoleLocked(role), nil
}

func (tv *txMemoryView) DeleteUser(_ context.Context, id ledger.UserID) error {
	return tv.parent.deleteUserLocked(id)
}

func (tv *txMemoryView) GetReward(_ context.Context, id ledger.RewardID) (*ledger.RewardItem, error) {
	return tv.parent.getRewardLocked(id), nil
}

func (tv *txMemoryView) SaveReward(_ context.Context, item ledger.RewardItem) error {
	tv.parent.rewards[item.ID] = item
	return nil
}

func (tv *txMemoryView) ListRewards(_ context.Context) ([]ledger.RewardItem, error) {
	out := make([]ledger.RewardItem, 0, len(tv.parent.rewards))
	for _, r := range tv.parent.rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (tv *txMemoryView) DeleteReward(_ context.Context, id ledger.RewardID) error {
	return tv.parent.deleteRewardLocked(id)
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	i, ok := tv.parent.txByID[id]
	if !ok {
		return nil, nil
	}
	tx := tv.parent.transactions[i]
	return &tx, nil
}

func (tv *txMemoryView) ListTransactions(_ context.Context, limit int) ([]ledger.Transaction, error) {
	out := make([]ledger.Transaction, 0, len(tv.parent.transactions))
	for i := len(tv.parent.transactions) - 1; i >= 0; i-- {
		out = append(out, tv.parent.transactions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (tv *txMemoryView) ListTransactionsByUser(_ context.Context, id ledger.UserID) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for i := len(tv.parent.transactions) - 1; i >= 0; i-- {
		if tv.parent.txTouchesUser(tv.parent.transactions[i], id) {
			out = append(out, tv.parent.transactions[i])
		}
	}
	return out, nil
}

func (tv *txMemoryView) SaveRequest(_ context.Context, r ledger.RedemptionRequest) error {
	tv.parent.requests[r.ID] = r
	return nil
}

func (tv *txMemoryView) GetRequest(_ context.Context, id ledger.RequestID) (*ledger.RedemptionRequest, error) {
	return tv.parent.getRequestLocked(id), nil
}

func (tv *txMemoryView) ListRequests(_ context.Context, status ledger.RequestStatus) ([]ledger.RedemptionRequest, error) {
	var out []ledger.RedemptionRequest
	for _, r := range tv.parent.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (tv *txMemoryView) ListRequestsByUser(_ context.Context, id ledger.UserID) ([]ledger.RedemptionRequest, error) {
	var out []ledger.RedemptionRequest
	for _, r := range tv.parent.requests {
		if r.UserID == id {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (tv *txMemoryView) GetQuotaSetting(_ context.Context, role string) (*ledger.QuotaSetting, error) {
	s, ok := tv.parent.quotaSettings[role]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (tv *txMemoryView) SaveQuotaSetting(_ context.Context, s ledger.QuotaSetting) error {
	tv.parent.quotaSettings[s.Role] = s
	return nil
}

func (tv *txMemoryView) SaveQuotaDistribution(_ context.Context, d ledger.QuotaDistribution) error {
	tv.parent.distributions = append(tv.parent.distributions, d)
	return nil
}

func (tv *txMemoryView) ListQuotaDistributions(_ context.Context) ([]ledger.QuotaDistribution, error) {
	out := make([]ledger.QuotaDistribution, len(tv.parent.distributions))
	copy(out, tv.parent.distributions)
	return out, nil
}
