package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/khata/ledger-engine/ledger"
	"github.com/khata/ledger-engine/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCustomer(t *testing.T, s *sqlite.Store, id, name, opening, openingDate string) ledger.Customer {
	t.Helper()
	ob, err := ledger.ParseAmount(opening)
	require.NoError(t, err)
	d, err := ledger.ParseDate(openingDate)
	require.NoError(t, err)

	now := time.Now().UTC()
	c := ledger.Customer{
		ID:                 id,
		Name:               name,
		OpeningBalance:     ob,
		OpeningBalanceDate: d,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, s.SaveCustomer(context.Background(), c))
	return c
}

func seedEntry(t *testing.T, s ledger.Store, customerID, date, amount string, kind ledger.Polarity) ledger.EntryID {
	t.Helper()
	d, err := ledger.ParseDate(date)
	require.NoError(t, err)

	id, err := s.InsertEntry(context.Background(), ledger.Transaction{
		CustomerID:     customerID,
		Date:           d,
		Amount:         decimal.RequireFromString(amount),
		Kind:           kind,
		RunningBalance: ledger.ZeroAmount(),
		FinancialYear:  ledger.FinancialYearOf(d),
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// CUSTOMER PERSISTENCE
// =============================================================================

func TestStore_Customer_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedCustomer(t, s, "c-1", "Asha", "1000.00 DR", "2024-04-01")

	got, err := s.GetCustomer(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Asha", got.Name)
	assert.Equal(t, "1000.00 DR", got.OpeningBalance.String())
	assert.Equal(t, "2024-04-01", got.OpeningBalanceDate.String())
	assert.False(t, got.IsSettled)
}

func TestStore_GetCustomer_MissingIsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetCustomer(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ListCustomers_ExcludesDeletedOrdersByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedCustomer(t, s, "c-1", "Zara", "0.00 CR", "2024-04-01")
	seedCustomer(t, s, "c-2", "Asha", "0.00 CR", "2024-04-01")
	gone := seedCustomer(t, s, "c-3", "Mira", "0.00 CR", "2024-04-01")

	gone.IsDeleted = true
	require.NoError(t, s.UpdateCustomer(ctx, gone))

	customers, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, "Asha", customers[0].Name)
	assert.Equal(t, "Zara", customers[1].Name)
}

func TestStore_UpdateCustomer_MissingRow(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateCustomer(context.Background(), ledger.Customer{
		ID:             "missing",
		Name:           "Nobody",
		OpeningBalance: ledger.ZeroAmount(),
	})
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

// =============================================================================
// ENTRY ORDERING AND SUFFIX QUERIES
// =============================================================================

func TestStore_Entries_DateThenInsertionOrder(t *testing.T) {
	// GIVEN: Entries inserted out of date order, two sharing a date
	// WHEN: Reading the customer's entries
	// THEN: (entry_date, id) ascending - same-day rows keep insertion order

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "c-1", "Asha", "0.00 CR", "2024-04-01")

	id1 := seedEntry(t, s, "c-1", "2024-05-10", "10.00", ledger.Credit)
	id2 := seedEntry(t, s, "c-1", "2024-04-15", "20.00", ledger.Debit)
	id3 := seedEntry(t, s, "c-1", "2024-04-15", "30.00", ledger.Credit)

	entries, err := s.Entries(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []ledger.EntryID{id2, id3, id1},
		[]ledger.EntryID{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestStore_EntriesOnOrAfter_SuffixBoundary(t *testing.T) {
	// The suffix at an entry's own position includes that entry; the
	// predecessor query returns the row immediately before it.

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "c-1", "Asha", "0.00 CR", "2024-04-01")

	id1 := seedEntry(t, s, "c-1", "2024-04-15", "10.00", ledger.Credit)
	id2 := seedEntry(t, s, "c-1", "2024-05-01", "20.00", ledger.Credit)
	id3 := seedEntry(t, s, "c-1", "2024-05-01", "30.00", ledger.Credit)

	pos := ledger.Position{Date: ledger.NewDate(2024, time.May, 1), ID: id2}

	suffix, err := s.EntriesOnOrAfter(ctx, "c-1", pos)
	require.NoError(t, err)
	require.Len(t, suffix, 2)
	assert.Equal(t, id2, suffix[0].ID)
	assert.Equal(t, id3, suffix[1].ID)

	prev, err := s.LastEntryBefore(ctx, "c-1", pos)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, id1, prev.ID)
}

func TestStore_LastEntryBefore_StartOfHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "c-1", "Asha", "0.00 CR", "2024-04-01")
	seedEntry(t, s, "c-1", "2024-05-01", "10.00", ledger.Credit)

	prev, err := s.LastEntryBefore(ctx, "c-1", ledger.Position{
		Date: ledger.NewDate(2024, time.April, 1),
	})
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestStore_MarkEntryDeleted_HidesFromOrderedReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "c-1", "Asha", "0.00 CR", "2024-04-01")

	id := seedEntry(t, s, "c-1", "2024-05-01", "10.00", ledger.Credit)
	require.NoError(t, s.MarkEntryDeleted(ctx, id))

	entries, err := s.Entries(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Still addressable by id and via the audit listing.
	row, err := s.GetEntry(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.IsDeleted)

	audit, err := s.DeletedEntries(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	// Deleting twice is an error (the first delete consumed the row).
	assert.ErrorIs(t, s.MarkEntryDeleted(ctx, id), ledger.ErrEntryNotFound)
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts then fails
	// WHEN: WithTx returns the error
	// THEN: The insert is not visible afterwards

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "c-1", "Asha", "0.00 CR", "2024-04-01")

	wantErr := assert.AnError
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		seedEntry(t, tx, "c-1", "2024-05-01", "10.00", ledger.Credit)
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	entries, err := s.Entries(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	// The suffix rewrite must see the row inserted moments earlier in the
	// same transaction.

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "c-1", "Asha", "0.00 CR", "2024-04-01")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		id := seedEntry(t, tx, "c-1", "2024-05-01", "10.00", ledger.Credit)

		inTx, err := tx.Entries(ctx, "c-1")
		require.NoError(t, err)
		require.Len(t, inTx, 1)
		require.Equal(t, id, inTx[0].ID)

		return tx.SetRunningBalance(ctx, id, ledger.AmountFromSigned(decimal.RequireFromString("10")))
	})
	require.NoError(t, err)

	entries, err := s.Entries(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.00 CR", entries[0].RunningBalance.String())
}

// =============================================================================
// ENGINE ON SQLITE - end to end through the real store
// =============================================================================

func TestEngineOnSQLite_BackdatedInsertAndDelete(t *testing.T) {
	// The memory-store scenarios hold against the production store too.

	s := newTestStore(t)
	ctx := context.Background()

	day, err := ledger.ParseDate("2024-06-01")
	require.NoError(t, err)
	engine := ledger.NewEngine(s, ledger.FixedClock{Day: day})

	ob, err := ledger.ParseAmount("1000.00 DR")
	require.NoError(t, err)
	c, err := engine.CreateCustomer(ctx, ledger.CustomerInput{
		Name:               "Asha",
		OpeningBalance:     ob,
		OpeningBalanceDate: ledger.NewDate(2024, time.April, 1),
	})
	require.NoError(t, err)

	payment, err := engine.CreateEntry(ctx, ledger.EntryInput{
		CustomerID: c.ID,
		Date:       ledger.NewDate(2024, time.May, 1),
		Amount:     decimal.RequireFromString("1500.00"),
		Kind:       ledger.Credit,
	})
	require.NoError(t, err)
	assert.Equal(t, "500.00 CR", payment.RunningBalance.String())

	backdated, err := engine.CreateEntry(ctx, ledger.EntryInput{
		CustomerID: c.ID,
		Date:       ledger.NewDate(2024, time.April, 15),
		Amount:     decimal.RequireFromString("200.00"),
		Kind:       ledger.Debit,
	})
	require.NoError(t, err)
	assert.Equal(t, "1200.00 DR", backdated.RunningBalance.String())

	entries, err := s.Entries(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1200.00 DR", entries[0].RunningBalance.String())
	assert.Equal(t, "300.00 CR", entries[1].RunningBalance.String())

	require.NoError(t, engine.DeleteEntry(ctx, backdated.ID))

	entries, err = s.Entries(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "500.00 CR", entries[0].RunningBalance.String())

	assert.NoError(t, engine.Verify(ctx, c.ID))
}
