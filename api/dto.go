/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMATS:
  Dates travel as "2006-01-02". Amounts travel as two fields: a decimal
  string magnitude ("1500.00") and a CR/DR kind. Balances additionally
  carry the canonical combined label ("500.00 CR") for display.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through a shared *validator.Validate before touching domain logic.
  Domain rules (future dates, settled customers, opening-date ordering)
  stay in the ledger package - tags only gate shape and presence.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/khata/ledger-engine/ledger"
)

// =============================================================================
// CUSTOMER TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Phone              string `json:"phone,omitempty"`
	OpeningBalance     string `json:"opening_balance"`
	OpeningBalanceDate string `json:"opening_balance_date"`
	IsSettled          bool   `json:"is_settled"`
	CreatedAt          string `json:"created_at,omitempty"`
	UpdatedAt          string `json:"updated_at,omitempty"`
}

// CreateCustomerRequest is the request to register a customer.
type CreateCustomerRequest struct {
	Name               string `json:"name" validate:"required,max=200"`
	Phone              string `json:"phone" validate:"omitempty,max=30"`
	OpeningBalance     string `json:"opening_balance" validate:"omitempty,decimal_magnitude"`
	OpeningBalanceKind string `json:"opening_balance_kind" validate:"omitempty,oneof=CR DR"`
	OpeningBalanceDate string `json:"opening_balance_date" validate:"required,datetime=2006-01-02"`
}

// UpdateCustomerRequest is the request to edit a customer record. PUT is
// full replacement: the opening balance must always be supplied, so an
// omitted field can never silently zero it.
type UpdateCustomerRequest struct {
	Name               string `json:"name" validate:"required,max=200"`
	Phone              string `json:"phone" validate:"omitempty,max=30"`
	OpeningBalance     string `json:"opening_balance" validate:"required,decimal_magnitude"`
	OpeningBalanceKind string `json:"opening_balance_kind" validate:"omitempty,oneof=CR DR"`
	OpeningBalanceDate string `json:"opening_balance_date" validate:"omitempty,datetime=2006-01-02"`
}

// CustomerSummaryDTO is the list-view projection of a customer.
type CustomerSummaryDTO struct {
	Customer      CustomerDTO `json:"customer"`
	Balance       string      `json:"balance"`
	LastEntryDate string      `json:"last_entry_date,omitempty"`
	EntryCount    int         `json:"entry_count"`
}

// =============================================================================
// ENTRY TYPES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID             int64  `json:"id"`
	CustomerID     string `json:"customer_id"`
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	Kind           string `json:"kind"`
	Note           string `json:"note,omitempty"`
	RunningBalance string `json:"running_balance"`
	FinancialYear  int    `json:"financial_year"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateEntryRequest is the request to record a credit/debit entry.
type CreateEntryRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount string `json:"amount" validate:"required,decimal_magnitude"`
	Kind   string `json:"kind" validate:"required,oneof=CR DR"`
	Note   string `json:"note" validate:"omitempty,max=500"`
}

// UpdateEntryRequest is the request to edit an entry.
type UpdateEntryRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount string `json:"amount" validate:"required,decimal_magnitude"`
	Kind   string `json:"kind" validate:"required,oneof=CR DR"`
	Note   string `json:"note" validate:"omitempty,max=500"`
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// LedgerRowDTO is one line of a customer statement.
type LedgerRowDTO struct {
	ID            int64  `json:"id"`
	Date          string `json:"date"`
	Credit        string `json:"credit,omitempty"`
	Debit         string `json:"debit,omitempty"`
	Note          string `json:"note,omitempty"`
	Balance       string `json:"balance"`
	FinancialYear int    `json:"financial_year"`
}

// LedgerDTO is the full statement for one customer.
type LedgerDTO struct {
	Customer    CustomerDTO    `json:"customer"`
	Opening     string         `json:"opening"`
	OpeningDate string         `json:"opening_date"`
	Entries     []LedgerRowDTO `json:"entries"`
	TotalCredit string         `json:"total_credit"`
	TotalDebit  string         `json:"total_debit"`
	Closing     string         `json:"closing"`
}

// SummaryDTO is a financial-year or date-range aggregate.
type SummaryDTO struct {
	CustomerID  string `json:"customer_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	TotalCredit string `json:"total_credit"`
	TotalDebit  string `json:"total_debit"`
	Net         string `json:"net"`
	Count       int    `json:"count"`
	Opening     string `json:"opening"`
	Closing     string `json:"closing"`
}

// RangeSectionDTO is one customer's slice of a date-range report.
type RangeSectionDTO struct {
	Customer    CustomerDTO    `json:"customer"`
	Entries     []LedgerRowDTO `json:"entries"`
	TotalCredit string         `json:"total_credit"`
	TotalDebit  string         `json:"total_debit"`
}

// RangeReportDTO is the cross-customer date-range report.
type RangeReportDTO struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	Sections    []RangeSectionDTO `json:"sections"`
	TotalCredit string            `json:"total_credit"`
	TotalDebit  string            `json:"total_debit"`
}

// VerifyDTO is the result of a consistency check.
type VerifyDTO struct {
	CustomerID string `json:"customer_id"`
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:                 c.ID,
		Name:               c.Name,
		Phone:              c.Phone,
		OpeningBalance:     c.OpeningBalance.String(),
		OpeningBalanceDate: c.OpeningBalanceDate.String(),
		IsSettled:          c.IsSettled,
		CreatedAt:          c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          c.UpdatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(t ledger.Transaction) EntryDTO {
	return EntryDTO{
		ID:             int64(t.ID),
		CustomerID:     t.CustomerID,
		Date:           t.Date.String(),
		Amount:         t.Amount.StringFixed(2),
		Kind:           string(t.Kind),
		Note:           t.Note,
		RunningBalance: t.RunningBalance.String(),
		FinancialYear:  t.FinancialYear,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}

func toLedgerRowDTO(e ledger.LedgerEntry) LedgerRowDTO {
	row := LedgerRowDTO{
		ID:            int64(e.ID),
		Date:          e.Date.String(),
		Note:          e.Note,
		Balance:       e.BalanceLabel,
		FinancialYear: e.FinancialYear,
	}
	if !e.Credit.IsZero() {
		row.Credit = e.Credit.StringFixed(2)
	}
	if !e.Debit.IsZero() {
		row.Debit = e.Debit.StringFixed(2)
	}
	return row
}

func toLedgerRowDTOs(entries []ledger.LedgerEntry) []LedgerRowDTO {
	rows := make([]LedgerRowDTO, len(entries))
	for i, e := range entries {
		rows[i] = toLedgerRowDTO(e)
	}
	return rows
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	return SummaryDTO{
		CustomerID:  s.CustomerID,
		From:        s.From.String(),
		To:          s.To.String(),
		TotalCredit: s.TotalCredit.StringFixed(2),
		TotalDebit:  s.TotalDebit.StringFixed(2),
		Net:         s.Net.String(),
		Count:       s.Count,
		Opening:     s.Opening.String(),
		Closing:     s.Closing.String(),
	}
}
