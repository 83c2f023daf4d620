/*
Package ledger provides the core balance engine for a single-currency
customer bookkeeping system.

PURPOSE:
  This package contains the types and algorithms that keep a customer's
  running balance consistent under mutation. Every credit/debit entry gets
  a derived running balance; mutating any entry recomputes the affected
  suffix of the sequence, and the fiscal-year aggregator and reports read
  those stored balances back without ever re-deriving them independently.

KEY CONCEPTS IN THIS FILE (types.go):
  - Polarity: A two-variant tag (Credit | Debit) carried through arithmetic
  - Amount: A non-negative magnitude with a polarity
  - Customer: The ledger owner (opening balance, settled flag)
  - Transaction: A dated credit/debit entry with a derived running balance

DESIGN PRINCIPLES:
  1. Precision: All amounts use decimal.Decimal with 2 fractional digits.
     Binary floating point never touches balance math.
  2. Derived balances: RunningBalance is computed by the engine, never
     supplied by a caller and never cached anywhere it could go stale.
  3. Tagged polarity: CR/DR is a type, not a string to compare.
  4. Soft deletes: Deleted entries stay addressable for audit but are
     invisible to balance math and reports.

POLARITY CONVENTION:
  Credit moves the balance in the customer's favor, Debit against it.
  This is the "customer owes us" framing, the opposite of a bank
  statement. A zero balance displays as Credit ("CR").

SEE ALSO:
  - engine.go: Recalculation on create/update/delete
  - fiscal.go: April-March financial year aggregation
  - report.go: Read-only ledger projections
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLARITY - Credit or Debit, carried through all arithmetic
// =============================================================================

type Polarity string

const (
	Credit Polarity = "CR"
	Debit  Polarity = "DR"
)

// ParsePolarity converts the wire form ("CR"/"DR") to a Polarity.
func ParsePolarity(s string) (Polarity, error) {
	switch Polarity(strings.ToUpper(strings.TrimSpace(s))) {
	case Credit:
		return Credit, nil
	case Debit:
		return Debit, nil
	}
	return "", fmt.Errorf("invalid polarity %q", s)
}

func (p Polarity) Valid() bool { return p == Credit || p == Debit }

// =============================================================================
// AMOUNT - Non-negative magnitude plus polarity
// =============================================================================

// Amount is a signed monetary value represented as (magnitude, polarity).
// The magnitude is always >= 0; the sign lives in the polarity tag.
type Amount struct {
	Value    decimal.Decimal
	Polarity Polarity
}

// NewAmount builds an Amount from a non-negative magnitude and polarity.
// The magnitude is rounded to the canonical 2 fractional digits.
func NewAmount(value decimal.Decimal, p Polarity) Amount {
	return Amount{Value: value.Abs().Round(2), Polarity: p}
}

// AmountFromSigned derives an Amount from a signed decimal.
// Negative means Debit; zero and positive mean Credit (zero displays as CR).
func AmountFromSigned(d decimal.Decimal) Amount {
	d = d.Round(2)
	if d.Sign() < 0 {
		return Amount{Value: d.Neg(), Polarity: Debit}
	}
	return Amount{Value: d, Polarity: Credit}
}

// ZeroAmount is the canonical zero balance (zero is Credit by convention).
func ZeroAmount() Amount {
	return Amount{Value: decimal.Zero, Polarity: Credit}
}

// Signed converts the (magnitude, polarity) pair to a signed decimal:
// Credit positive, Debit negative.
func (a Amount) Signed() decimal.Decimal {
	if a.Polarity == Debit {
		return a.Value.Neg()
	}
	return a.Value
}

func (a Amount) IsZero() bool { return a.Value.IsZero() }

// Equal compares by signed value, so "0.00 DR" equals "0.00 CR".
func (a Amount) Equal(b Amount) bool { return a.Signed().Equal(b.Signed()) }

// String renders the canonical serialization, e.g. "1234.50 CR".
func (a Amount) String() string {
	p := a.Polarity
	if !p.Valid() {
		p = Credit
	}
	return a.Value.StringFixed(2) + " " + string(p)
}

// ParseAmount parses the canonical "1234.50 CR" form.
func ParseAmount(s string) (Amount, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Amount{}, fmt.Errorf("invalid amount %q: want \"<magnitude> CR|DR\"", s)
	}
	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if value.Sign() < 0 {
		return Amount{}, fmt.Errorf("invalid amount %q: magnitude must not be negative", s)
	}
	p, err := ParsePolarity(fields[1])
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: value.Round(2), Polarity: p}, nil
}

// Combine folds a signed delta into a balance and re-derives the polarity
// from the sign of the result. This is the single arithmetic rule the whole
// running-balance invariant is built on.
func Combine(balance Amount, delta Amount) Amount {
	return AmountFromSigned(balance.Signed().Add(delta.Signed()))
}

// =============================================================================
// CUSTOMER - Owner of one ledger
// =============================================================================

type Customer struct {
	ID                 string
	Name               string
	Phone              string
	OpeningBalance     Amount
	OpeningBalanceDate Date

	// IsSettled closes the account to new entries. Settled customers stay
	// queryable; un-settling is owned outside this engine.
	IsSettled bool

	// IsDeleted blocks every mutation and removes the customer from
	// reports. The record and its transactions are retained.
	IsDeleted bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION - One dated credit/debit entry
// =============================================================================

// EntryID is the store-assigned insertion sequence. Entries sharing a date
// are ordered by EntryID ascending; there is no time-of-day signal.
type EntryID int64

type Transaction struct {
	ID         EntryID
	CustomerID string
	Date       Date

	// Amount is the strictly positive magnitude; Kind carries the sign.
	Amount decimal.Decimal
	Kind   Polarity
	Note   string

	// RunningBalance is derived by the engine: Combine folded from the
	// customer's opening balance over the (Date, ID)-ordered non-deleted
	// sequence up to and including this entry. Never set by callers.
	RunningBalance Amount

	// FinancialYear is derived from Date (April-March, see fiscal.go).
	FinancialYear int

	IsDeleted bool
	CreatedAt time.Time
}

// Delta returns the entry's signed contribution as an Amount.
func (t Transaction) Delta() Amount {
	return Amount{Value: t.Amount, Polarity: t.Kind}
}

func (t Transaction) Position() Position {
	return Position{Date: t.Date, ID: t.ID}
}

// =============================================================================
// POSITION - The (date, id) total order over a customer's entries
// =============================================================================

// Position identifies a point in a customer's ledger order. The zero
// Position sorts before every real entry.
type Position struct {
	Date Date
	ID   EntryID
}

func (p Position) Less(q Position) bool {
	if !p.Date.Equal(q.Date) {
		return p.Date.Before(q.Date)
	}
	return p.ID < q.ID
}

// MinPosition returns the earlier of two positions.
func MinPosition(p, q Position) Position {
	if q.Less(p) {
		return q
	}
	return p
}
