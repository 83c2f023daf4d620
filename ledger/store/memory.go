// Package store provides an in-memory ledger.Store implementation for
// tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/khata/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	customers map[string]ledger.Customer
	entries   map[ledger.EntryID]ledger.Transaction
	nextID    ledger.EntryID
}

func NewMemory() *Memory {
	return &Memory{
		customers: make(map[string]ledger.Customer),
		entries:   make(map[ledger.EntryID]ledger.Transaction),
		nextID:    1,
	}
}

// --- Customers ---

func (m *Memory) SaveCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) UpdateCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCustomerLocked(c)
}

func (m *Memory) updateCustomerLocked(c ledger.Customer) error {
	if _, ok := m.customers[c.ID]; !ok {
		return ledger.ErrCustomerNotFound
	}
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) GetCustomer(_ context.Context, id string) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Customer
	for _, c := range m.customers {
		if !c.IsDeleted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Entries ---

func (m *Memory) InsertEntry(_ context.Context, tx ledger.Transaction) (ledger.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx)
}

func (m *Memory) insertLocked(tx ledger.Transaction) (ledger.EntryID, error) {
	tx.ID = m.nextID
	m.nextID++
	m.entries[tx.ID] = tx
	return tx.ID, nil
}

func (m *Memory) UpdateEntry(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(tx)
}

func (m *Memory) updateLocked(tx ledger.Transaction) error {
	old, ok := m.entries[tx.ID]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	old.Date = tx.Date
	old.Amount = tx.Amount
	old.Kind = tx.Kind
	old.Note = tx.Note
	old.FinancialYear = tx.FinancialYear
	m.entries[tx.ID] = old
	return nil
}

func (m *Memory) MarkEntryDeleted(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markDeletedLocked(id)
}

func (m *Memory) markDeletedLocked(id ledger.EntryID) error {
	tx, ok := m.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	tx.IsDeleted = true
	m.entries[id] = tx
	return nil
}

func (m *Memory) SetRunningBalance(_ context.Context, id ledger.EntryID, balance ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBalanceLocked(id, balance)
}

func (m *Memory) setBalanceLocked(id ledger.EntryID, balance ledger.Amount) error {
	tx, ok := m.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	tx.RunningBalance = balance
	m.entries[id] = tx
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id ledger.EntryID) (*ledger.Transaction, error) {
	tx, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) Entries(_ context.Context, customerID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && !t.IsDeleted
	}), nil
}

func (m *Memory) DeletedEntries(_ context.Context, customerID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && t.IsDeleted
	}), nil
}

func (m *Memory) EntriesInRange(_ context.Context, customerID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && !t.IsDeleted &&
			from.BeforeOrEqual(t.Date) && t.Date.BeforeOrEqual(to)
	}), nil
}

func (m *Memory) EntriesOnOrAfter(_ context.Context, customerID string, pos ledger.Position) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suffixLocked(customerID, pos), nil
}

func (m *Memory) suffixLocked(customerID string, pos ledger.Position) []ledger.Transaction {
	return m.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && !t.IsDeleted && !t.Position().Less(pos)
	})
}

func (m *Memory) LastEntryBefore(_ context.Context, customerID string, pos ledger.Position) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBeforeLocked(customerID, pos), nil
}

func (m *Memory) lastBeforeLocked(customerID string, pos ledger.Position) *ledger.Transaction {
	prefix := m.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && !t.IsDeleted && t.Position().Less(pos)
	})
	if len(prefix) == 0 {
		return nil
	}
	last := prefix[len(prefix)-1]
	return &last
}

func (m *Memory) AllEntriesInRange(_ context.Context, from, to ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(func(t ledger.Transaction) bool {
		return !t.IsDeleted && from.BeforeOrEqual(t.Date) && t.Date.BeforeOrEqual(to)
	}), nil
}

// selectLocked filters and returns entries in (Date, ID) order.
func (m *Memory) selectLocked(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var out []ledger.Transaction
	for _, t := range m.entries {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position().Less(out[j].Position())
	})
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with snapshot/rollback transaction semantics.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against a view that writes through to the store; on
// error the pre-transaction snapshot is restored, matching the atomic
// suffix-rewrite contract.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	customers map[string]ledger.Customer
	entries   map[ledger.EntryID]ledger.Transaction
	nextID    ledger.EntryID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	customers := make(map[string]ledger.Customer, len(tm.customers))
	for k, v := range tm.customers {
		customers[k] = v
	}
	entries := make(map[ledger.EntryID]ledger.Transaction, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = v
	}
	return memorySnapshot{customers: customers, entries: entries, nextID: tm.nextID}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.customers = s.customers
	tm.entries = s.entries
	tm.nextID = s.nextID
}

// txMemoryView runs against the already-locked parent.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveCustomer(_ context.Context, c ledger.Customer) error {
	tv.parent.customers[c.ID] = c
	return nil
}

func (tv *txMemoryView) UpdateCustomer(_ context.Context, c ledger.Customer) error {
	return tv.parent.updateCustomerLocked(c)
}

func (tv *txMemoryView) GetCustomer(_ context.Context, id string) (*ledger.Customer, error) {
	c, ok := tv.parent.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (tv *txMemoryView) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	var out []ledger.Customer
	for _, c := range tv.parent.customers {
		if !c.IsDeleted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (tv *txMemoryView) InsertEntry(_ context.Context, tx ledger.Transaction) (ledger.EntryID, error) {
	return tv.parent.insertLocked(tx)
}

func (tv *txMemoryView) UpdateEntry(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.updateLocked(tx)
}

func (tv *txMemoryView) MarkEntryDeleted(_ context.Context, id ledger.EntryID) error {
	return tv.parent.markDeletedLocked(id)
}

func (tv *txMemoryView) SetRunningBalance(_ context.Context, id ledger.EntryID, balance ledger.Amount) error {
	return tv.parent.setBalanceLocked(id, balance)
}

func (tv *txMemoryView) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Transaction, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) Entries(_ context.Context, customerID string) ([]ledger.Transaction, error) {
	return tv.parent.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && !t.IsDeleted
	}), nil
}

func (tv *txMemoryView) DeletedEntries(_ context.Context, customerID string) ([]ledger.Transaction, error) {
	return tv.parent.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && t.IsDeleted
	}), nil
}

func (tv *txMemoryView) EntriesInRange(_ context.Context, customerID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	return tv.parent.selectLocked(func(t ledger.Transaction) bool {
		return t.CustomerID == customerID && !t.IsDeleted &&
			from.BeforeOrEqual(t.Date) && t.Date.BeforeOrEqual(to)
	}), nil
}

func (tv *txMemoryView) EntriesOnOrAfter(_ context.Context, customerID string, pos ledger.Position) ([]ledger.Transaction, error) {
	return tv.parent.suffixLocked(customerID, pos), nil
}

func (tv *txMemoryView) LastEntryBefore(_ context.Context, customerID string, pos ledger.Position) (*ledger.Transaction, error) {
	return tv.parent.lastBeforeLocked(customerID, pos), nil
}

func (tv *txMemoryView) AllEntriesInRange(_ context.Context, from, to ledger.Date) ([]ledger.Transaction, error) {
	return tv.parent.selectLocked(func(t ledger.Transaction) bool {
		return !t.IsDeleted && from.BeforeOrEqual(t.Date) && t.Date.BeforeOrEqual(to)
	}), nil
}
