/*
report.go - Read-only ledger projections

PURPOSE:
  The query facade composed from the recalculation engine's stored output
  and the fiscal aggregator. Everything here is a projection: nothing
  mutates, nothing re-derives balances, and soft-deleted rows never
  appear.

PROJECTIONS:
  CustomerLedger:  opening balance row + every entry with split CR/DR
                   columns + totals row
  DateRangeReport: all customers' entries in a range, grouped per
                   customer with subtotals
  CustomerSummary: latest balance and last entry date, for list views
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRY - A transaction annotated for display. Never persisted.
// =============================================================================

type LedgerEntry struct {
	ID   EntryID
	Date Date

	// Exactly one of Credit/Debit is non-zero, per the entry's kind.
	Credit decimal.Decimal
	Debit  decimal.Decimal

	Note          string
	Balance       Amount
	BalanceLabel  string // canonical "1234.50 CR" form
	FinancialYear int
}

func toLedgerEntry(t Transaction) LedgerEntry {
	e := LedgerEntry{
		ID:            t.ID,
		Date:          t.Date,
		Note:          t.Note,
		Balance:       t.RunningBalance,
		BalanceLabel:  t.RunningBalance.String(),
		FinancialYear: t.FinancialYear,
	}
	switch t.Kind {
	case Credit:
		e.Credit = t.Amount
	case Debit:
		e.Debit = t.Amount
	}
	return e
}

// =============================================================================
// REPORTER - The query facade
// =============================================================================

type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

// CustomerLedger is the full statement for one customer.
type CustomerLedger struct {
	Customer    Customer
	Opening     Amount
	OpeningDate Date
	Entries     []LedgerEntry
	TotalCredit decimal.Decimal
	TotalDebit  decimal.Decimal
	Closing     Amount
}

// Ledger builds the full statement: opening row, every non-deleted entry
// in ledger order, and the totals row.
func (r *Reporter) Ledger(ctx context.Context, customerID string) (*CustomerLedger, error) {
	c, err := r.visibleCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	entries, err := r.store.Entries(ctx, customerID)
	if err != nil {
		return nil, err
	}

	out := &CustomerLedger{
		Customer:    *c,
		Opening:     c.OpeningBalance,
		OpeningDate: c.OpeningBalanceDate,
		Entries:     make([]LedgerEntry, 0, len(entries)),
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
		Closing:     c.OpeningBalance,
	}
	for _, t := range entries {
		out.Entries = append(out.Entries, toLedgerEntry(t))
		switch t.Kind {
		case Credit:
			out.TotalCredit = out.TotalCredit.Add(t.Amount)
		case Debit:
			out.TotalDebit = out.TotalDebit.Add(t.Amount)
		}
		out.Closing = t.RunningBalance
	}
	return out, nil
}

// CustomerSection is one customer's slice of a date-range report.
type CustomerSection struct {
	Customer    Customer
	Entries     []LedgerEntry
	TotalCredit decimal.Decimal
	TotalDebit  decimal.Decimal
}

// DateRangeReport groups every customer's in-range entries with
// per-customer subtotals and a grand total.
type DateRangeReport struct {
	From, To    Date
	Sections    []CustomerSection
	TotalCredit decimal.Decimal
	TotalDebit  decimal.Decimal
}

// DateRange builds the cross-customer report for [from, to]. Customers
// are ordered by name (store order); soft-deleted customers and entries
// are excluded.
func (r *Reporter) DateRange(ctx context.Context, from, to Date) (*DateRangeReport, error) {
	customers, err := r.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.AllEntriesInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byCustomer := make(map[string][]Transaction, len(customers))
	for _, t := range entries {
		byCustomer[t.CustomerID] = append(byCustomer[t.CustomerID], t)
	}

	report := &DateRangeReport{
		From:        from,
		To:          to,
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
	}
	for _, c := range customers {
		txs := byCustomer[c.ID]
		if len(txs) == 0 {
			continue
		}
		section := CustomerSection{
			Customer:    c,
			Entries:     make([]LedgerEntry, 0, len(txs)),
			TotalCredit: decimal.Zero,
			TotalDebit:  decimal.Zero,
		}
		for _, t := range txs {
			section.Entries = append(section.Entries, toLedgerEntry(t))
			switch t.Kind {
			case Credit:
				section.TotalCredit = section.TotalCredit.Add(t.Amount)
			case Debit:
				section.TotalDebit = section.TotalDebit.Add(t.Amount)
			}
		}
		report.TotalCredit = report.TotalCredit.Add(section.TotalCredit)
		report.TotalDebit = report.TotalDebit.Add(section.TotalDebit)
		report.Sections = append(report.Sections, section)
	}
	return report, nil
}

// CustomerSummary is the list-view projection: who they are and where
// their balance stands.
type CustomerSummary struct {
	Customer      Customer
	Balance       Amount
	BalanceLabel  string
	LastEntryDate *Date
	EntryCount    int
}

// Summary builds the projection for one customer.
func (r *Reporter) Summary(ctx context.Context, customerID string) (*CustomerSummary, error) {
	c, err := r.visibleCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return r.summarize(ctx, *c)
}

// Summaries builds the projection for every non-deleted customer.
func (r *Reporter) Summaries(ctx context.Context) ([]CustomerSummary, error) {
	customers, err := r.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CustomerSummary, 0, len(customers))
	for _, c := range customers {
		s, err := r.summarize(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// DeletedEntries is the audit view: soft-deleted entries stay addressable
// even though no projection or balance includes them.
func (r *Reporter) DeletedEntries(ctx context.Context, customerID string) ([]Transaction, error) {
	if _, err := r.visibleCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return r.store.DeletedEntries(ctx, customerID)
}

func (r *Reporter) summarize(ctx context.Context, c Customer) (*CustomerSummary, error) {
	entries, err := r.store.Entries(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	s := &CustomerSummary{
		Customer:   c,
		Balance:    c.OpeningBalance,
		EntryCount: len(entries),
	}
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		s.Balance = last.RunningBalance
		d := last.Date
		s.LastEntryDate = &d
	}
	s.BalanceLabel = s.Balance.String()
	return s, nil
}

func (r *Reporter) visibleCustomer(ctx context.Context, id string) (*Customer, error) {
	c, err := r.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.IsDeleted {
		return nil, ErrCustomerNotFound
	}
	return c, nil
}
