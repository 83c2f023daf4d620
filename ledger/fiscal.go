/*
fiscal.go - Financial year mapping and aggregation

PURPOSE:
  Partitions a customer's history into April-March financial years and
  summarizes any year or explicit date range: credit/debit totals, net,
  count, and the opening/closing balances carried across the boundary.

FINANCIAL YEAR RULE:
  January-March belong to the financial year numbered one less than the
  calendar year; April-December to the year itself. 2024-03-31 is FY 2023,
  2024-04-01 is FY 2024.

GUARANTEE:
  The aggregator never mutates state and never re-sums balances from
  scratch. Opening and closing come straight from stored running balances,
  so there is exactly one source of truth for what a balance is.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// FinancialYearOf maps a calendar date to its April-March financial year,
// identified by the starting calendar year.
func FinancialYearOf(d Date) int {
	if d.Month() < time.April {
		return d.Year() - 1
	}
	return d.Year()
}

// FiscalPeriod returns the [April 1, March 31] span of a financial year.
func FiscalPeriod(year int) (from, to Date) {
	return NewDate(year, time.April, 1), NewDate(year+1, time.March, 31)
}

// =============================================================================
// SUMMARY - Aggregate view of a slice of one customer's ledger
// =============================================================================

type Summary struct {
	CustomerID string
	From, To   Date

	TotalCredit decimal.Decimal
	TotalDebit  decimal.Decimal
	Net         Amount
	Count       int

	// Opening is the running balance immediately before the first entry in
	// range - the stored opening balance when the range starts history.
	Opening Amount

	// Closing is the last in-range running balance, or Opening when the
	// range is empty.
	Closing Amount
}

// Aggregator produces financial-year and date-range summaries. Pure reads.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// YearSummary summarizes one financial year of a customer's ledger.
func (a *Aggregator) YearSummary(ctx context.Context, customerID string, year int) (Summary, error) {
	from, to := FiscalPeriod(year)
	return a.RangeSummary(ctx, customerID, from, to)
}

// RangeSummary summarizes [from, to] of a customer's ledger.
func (a *Aggregator) RangeSummary(ctx context.Context, customerID string, from, to Date) (Summary, error) {
	c, err := a.store.GetCustomer(ctx, customerID)
	if err != nil {
		return Summary{}, err
	}
	if c == nil {
		return Summary{}, ErrCustomerNotFound
	}

	opening := c.OpeningBalance
	prev, err := a.store.LastEntryBefore(ctx, customerID, Position{Date: from})
	if err != nil {
		return Summary{}, err
	}
	if prev != nil {
		opening = prev.RunningBalance
	}

	entries, err := a.store.EntriesInRange(ctx, customerID, from, to)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		CustomerID:  customerID,
		From:        from,
		To:          to,
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
		Opening:     opening,
		Closing:     opening,
	}
	for _, entry := range entries {
		switch entry.Kind {
		case Credit:
			s.TotalCredit = s.TotalCredit.Add(entry.Amount)
		case Debit:
			s.TotalDebit = s.TotalDebit.Add(entry.Amount)
		}
		s.Count++
		s.Closing = entry.RunningBalance
	}
	s.Net = AmountFromSigned(s.TotalCredit.Sub(s.TotalDebit))
	return s, nil
}

// Years lists the financial years a customer's history spans, oldest
// first, derived from the opening balance date through the last entry.
func (a *Aggregator) Years(ctx context.Context, customerID string) ([]int, error) {
	c, err := a.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCustomerNotFound
	}

	first := FinancialYearOf(c.OpeningBalanceDate)
	last := first
	entries, err := a.store.Entries(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		last = entries[len(entries)-1].FinancialYear
	}

	years := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		years = append(years, y)
	}
	return years, nil
}
