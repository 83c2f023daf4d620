/*
handlers.go - HTTP API handlers for the ledger balance engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers                      List customers with balances
    POST   /api/customers                      Register customer
    GET    /api/customers/{id}                 Customer summary
    PUT    /api/customers/{id}                 Edit customer
    DELETE /api/customers/{id}                 Soft-delete customer
    POST   /api/customers/{id}/settle          Settle (freeze) the ledger

  Entries:
    POST   /api/customers/{id}/entries         Record credit/debit entry
    PUT    /api/entries/{id}                   Edit entry
    DELETE /api/entries/{id}                   Soft-delete entry
    GET    /api/customers/{id}/deleted-entries Audit view of deleted rows

  Reports:
    GET    /api/customers/{id}/ledger          Full statement
    GET    /api/customers/{id}/summary         FY or date-range aggregate
    GET    /api/customers/{id}/years           Financial years spanned
    GET    /api/customers/{id}/verify          Consistency check
    GET    /api/reports/range                  Cross-customer range report

REQUEST FLOW:
  1. Decode and validate the request body (go-playground/validator)
  2. Map wire types to domain types
  3. Call domain logic (engine, aggregator, reporter)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Customer or entry not found
  - 409: Mutation against a settled customer
  - 500: Storage faults, failed recalculations (rolled back; retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/khata/ledger-engine/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *ledger.Engine
	Aggregator *ledger.Aggregator
	Reporter   *ledger.Reporter

	validate *validator.Validate
}

// NewHandler creates a new handler over the given domain services.
func NewHandler(engine *ledger.Engine, agg *ledger.Aggregator, rep *ledger.Reporter) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())

	// decimal_magnitude: a parseable, non-negative decimal string.
	// Sign and scale rules beyond that belong to the engine.
	v.RegisterValidation("decimal_magnitude", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.Sign() >= 0
	})

	return &Handler{
		Engine:     engine,
		Aggregator: agg,
		Reporter:   rep,
		validate:   v,
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns every non-deleted customer with its current balance.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Reporter.Summaries(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerSummaryDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toSummaryView(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a customer with an opening balance.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := customerInput(req.Name, req.Phone, req.OpeningBalance, req.OpeningBalanceKind, req.OpeningBalanceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer", err)
		return
	}

	c, err := h.Engine.CreateCustomer(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns one customer's summary.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.Reporter.Summary(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryView(*s))
}

// UpdateCustomer edits a customer record. Changing the opening balance
// recomputes the full ledger before the response is written.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := customerInput(req.Name, req.Phone, req.OpeningBalance, req.OpeningBalanceKind, req.OpeningBalanceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer", err)
		return
	}

	c, err := h.Engine.UpdateCustomer(r.Context(), id, in)
	if err != nil {
		writeDomainError(w, "Failed to update customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// DeleteCustomer soft-deletes a customer.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.DeleteCustomer(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SettleCustomer freezes the customer's ledger. Idempotent.
func (h *Handler) SettleCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.Engine.SettleCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to settle customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// CreateEntry records a credit/debit entry for a customer.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	var req CreateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := entryInput(customerID, req.Date, req.Amount, req.Kind, req.Note)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry", err)
		return
	}

	entry, err := h.Engine.CreateEntry(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// UpdateEntry edits an entry's date, amount, kind or note.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	var req UpdateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := entryInput("", req.Date, req.Amount, req.Kind, req.Note)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry", err)
		return
	}

	entry, err := h.Engine.UpdateEntry(r.Context(), id, in)
	if err != nil {
		writeDomainError(w, "Failed to update entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// DeleteEntry soft-deletes an entry and rebalances what followed it.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	if err := h.Engine.DeleteEntry(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeletedEntries returns the audit view of a customer's soft-deleted rows.
func (h *Handler) DeletedEntries(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	entries, err := h.Reporter.DeletedEntries(r.Context(), customerID)
	if err != nil {
		writeDomainError(w, "Failed to get deleted entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, t := range entries {
		dtos[i] = toEntryDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetLedger returns the full statement for one customer.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	led, err := h.Reporter.Ledger(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to build ledger", err)
		return
	}

	writeJSON(w, http.StatusOK, LedgerDTO{
		Customer:    toCustomerDTO(led.Customer),
		Opening:     led.Opening.String(),
		OpeningDate: led.OpeningDate.String(),
		Entries:     toLedgerRowDTOs(led.Entries),
		TotalCredit: led.TotalCredit.StringFixed(2),
		TotalDebit:  led.TotalDebit.StringFixed(2),
		Closing:     led.Closing.String(),
	})
}

// GetSummary aggregates one customer's ledger over a financial year
// (?year=2024) or an explicit range (?from=...&to=...).
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var (
		s   ledger.Summary
		err error
	)
	switch {
	case q.Get("year") != "":
		year, convErr := strconv.Atoi(q.Get("year"))
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", convErr)
			return
		}
		s, err = h.Aggregator.YearSummary(r.Context(), id, year)
	case q.Get("from") != "" && q.Get("to") != "":
		from, to, rangeErr := dateRange(q.Get("from"), q.Get("to"))
		if rangeErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range", rangeErr)
			return
		}
		s, err = h.Aggregator.RangeSummary(r.Context(), id, from, to)
	default:
		writeError(w, http.StatusBadRequest, "Provide ?year= or ?from=&to=", nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// GetYears lists the financial years a customer's history spans.
func (h *Handler) GetYears(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	years, err := h.Aggregator.Years(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list years", err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

// VerifyCustomer re-derives the running balances and reports whether the
// stored sequence matches.
func (h *Handler) VerifyCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.Engine.Verify(r.Context(), id)
	var inconsistency *ledger.ConsistencyError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, VerifyDTO{CustomerID: id, Consistent: true})
	case errors.As(err, &inconsistency):
		writeJSON(w, http.StatusOK, VerifyDTO{
			CustomerID: id,
			Consistent: false,
			Detail:     inconsistency.Error(),
		})
	default:
		writeDomainError(w, "Failed to verify customer", err)
	}
}

// GetRangeReport builds the cross-customer report for ?from=&to=.
func (h *Handler) GetRangeReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	report, err := h.Reporter.DateRange(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, "Failed to build report", err)
		return
	}

	dto := RangeReportDTO{
		From:        report.From.String(),
		To:          report.To.String(),
		Sections:    make([]RangeSectionDTO, len(report.Sections)),
		TotalCredit: report.TotalCredit.StringFixed(2),
		TotalDebit:  report.TotalDebit.StringFixed(2),
	}
	for i, sec := range report.Sections {
		dto.Sections[i] = RangeSectionDTO{
			Customer:    toCustomerDTO(sec.Customer),
			Entries:     toLedgerRowDTOs(sec.Entries),
			TotalCredit: sec.TotalCredit.StringFixed(2),
			TotalDebit:  sec.TotalDebit.StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode unmarshals and validates a request body, writing the 400 itself
// when the payload is malformed. Returns false if the response is done.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func customerInput(name, phone, opening, kind, openingDate string) (ledger.CustomerInput, error) {
	in := ledger.CustomerInput{Name: name, Phone: phone}

	if opening != "" {
		mag, err := decimal.NewFromString(opening)
		if err != nil {
			return in, err
		}
		p := ledger.Credit
		if kind != "" {
			if p, err = ledger.ParsePolarity(kind); err != nil {
				return in, err
			}
		}
		in.OpeningBalance = ledger.NewAmount(mag, p)
	}
	if openingDate != "" {
		d, err := ledger.ParseDate(openingDate)
		if err != nil {
			return in, err
		}
		in.OpeningBalanceDate = d
	}
	return in, nil
}

func entryInput(customerID, date, amount, kind, note string) (ledger.EntryInput, error) {
	d, err := ledger.ParseDate(date)
	if err != nil {
		return ledger.EntryInput{}, err
	}
	mag, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.EntryInput{}, err
	}
	p, err := ledger.ParsePolarity(kind)
	if err != nil {
		return ledger.EntryInput{}, err
	}
	return ledger.EntryInput{
		CustomerID: customerID,
		Date:       d,
		Amount:     mag,
		Kind:       p,
		Note:       note,
	}, nil
}

func dateRange(fromStr, toStr string) (ledger.Date, ledger.Date, error) {
	from, err := ledger.ParseDate(fromStr)
	if err != nil {
		return ledger.Date{}, ledger.Date{}, err
	}
	to, err := ledger.ParseDate(toStr)
	if err != nil {
		return ledger.Date{}, ledger.Date{}, err
	}
	if to.Before(from) {
		return ledger.Date{}, ledger.Date{}, errors.New("to precedes from")
	}
	return from, to, nil
}

func entryID(w http.ResponseWriter, r *http.Request) (ledger.EntryID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return 0, false
	}
	return ledger.EntryID(id), true
}

func toSummaryView(s ledger.CustomerSummary) CustomerSummaryDTO {
	dto := CustomerSummaryDTO{
		Customer:   toCustomerDTO(s.Customer),
		Balance:    s.BalanceLabel,
		EntryCount: s.EntryCount,
	}
	if s.LastEntryDate != nil {
		dto.LastEntryDate = s.LastEntryDate.String()
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrCustomerSettled):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
