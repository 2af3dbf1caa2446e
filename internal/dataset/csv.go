package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Standard raw dataset columns.
const (
	ColCustomerID = "customer_id"
	ColEventDate  = "event_date"
	ColAmount     = "amount"
	ColEventType  = "event_type"
	ColChurnLabel = "churn_label"
)

var requiredColumns = []string{ColCustomerID, ColEventDate}

var standardColumns = map[string]bool{
	ColCustomerID: true,
	ColEventDate:  true,
	ColAmount:     true,
	ColEventType:  true,
	ColChurnLabel: true,
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// RowError describes a row that could not be parsed. Row is 1 based and excludes the header.
type RowError struct {
	Row        int
	CustomerID string
	Err        error
}

func (e RowError) Error() string {
	if e.CustomerID == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d (customer %s): %v", e.Row, e.CustomerID, e.Err)
}

// ParseResult holds the outcome of parsing a raw event CSV.
type ParseResult struct {
	Columns      []string
	Transactions []models.Transaction
	RowErrors    []RowError
}

// HasColumn reports whether the header contained the named column.
func (p *ParseResult) HasColumn(name string) bool {
	for _, c := range p.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ParseRaw parses a raw event CSV. Structural problems (unreadable CSV, missing required
// columns) are returned as validation errors; problems with individual rows are collected
// in RowErrors so callers can decide whether they are fatal.
// churn_label values are only read when hasChurnLabel is set.
func ParseRaw(data []byte, hasChurnLabel bool) (*ParseResult, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.Validation("csv is empty")
		}
		return nil, apperrors.Validation("unreadable csv header: %v", err)
	}

	columns := make([]string, len(header))
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[i] = name
		if _, dup := index[name]; dup {
			return nil, apperrors.Validation("duplicate column %q", name)
		}
		index[name] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.Validation("missing required columns: %s", strings.Join(missing, ", "))
	}

	result := &ParseResult{Columns: columns}

	for row := 1; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, apperrors.Validation("malformed csv at line %d: %v", parseErr.Line, parseErr.Err)
			}
			return nil, apperrors.Validation("unreadable csv: %v", err)
		}

		txn, err := parseRow(record, columns, index, hasChurnLabel)
		if err != nil {
			result.RowErrors = append(result.RowErrors, RowError{Row: row, CustomerID: txn.CustomerID, Err: err})
			continue
		}
		result.Transactions = append(result.Transactions, txn)
	}

	return result, nil
}

func field(record []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseRow(record []string, columns []string, index map[string]int, hasChurnLabel bool) (models.Transaction, error) {
	txn := models.Transaction{
		CustomerID: field(record, index, ColCustomerID),
		EventType:  field(record, index, ColEventType),
	}

	if txn.CustomerID == "" {
		return txn, errors.New("customer_id is empty")
	}

	date, err := ParseDate(field(record, index, ColEventDate))
	if err != nil {
		return txn, err
	}
	txn.EventDate = date

	if raw := field(record, index, ColAmount); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
			return txn, fmt.Errorf("invalid amount %q", raw)
		}
		if amount < 0 {
			return txn, fmt.Errorf("amount %q is negative", raw)
		}
		txn.Amount = amount
	}

	if hasChurnLabel {
		if raw := field(record, index, ColChurnLabel); raw != "" {
			label, err := parseLabel(raw)
			if err != nil {
				return txn, err
			}
			txn.ChurnLabel = &label
		}
	}

	for i, name := range columns {
		if standardColumns[name] || i >= len(record) {
			continue
		}
		if txn.Extra == nil {
			txn.Extra = make(map[string]string)
		}
		txn.Extra[name] = record[i]
	}

	return txn, nil
}

// ParseDate parses an ISO date or timestamp and truncates it to a UTC calendar day.
func ParseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("event_date is empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid event_date %q", raw)
}

func parseLabel(raw string) (int, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || (v != 0 && v != 1) {
		return 0, fmt.Errorf("invalid churn_label %q, expected 0 or 1", raw)
	}
	return int(v), nil
}

// ValidateRaw parses data and rejects it if any row is invalid.
func ValidateRaw(data []byte, hasChurnLabel bool) (*ParseResult, error) {
	result, err := ParseRaw(data, hasChurnLabel)
	if err != nil {
		return nil, err
	}
	if len(result.RowErrors) > 0 {
		first := result.RowErrors[0]
		return nil, apperrors.Validation("%d invalid rows, first: %s", len(result.RowErrors), first.Error())
	}
	if hasChurnLabel && !result.HasColumn(ColChurnLabel) {
		return nil, apperrors.Validation("has_churn_label is set but the %s column is missing", ColChurnLabel)
	}
	return result, nil
}

// GroupByCustomer groups transactions by customer id, preserving first seen order of customers.
func GroupByCustomer(txns []models.Transaction) ([]string, map[string][]models.Transaction) {
	var order []string
	groups := make(map[string][]models.Transaction)
	for _, t := range txns {
		if _, seen := groups[t.CustomerID]; !seen {
			order = append(order, t.CustomerID)
		}
		groups[t.CustomerID] = append(groups[t.CustomerID], t)
	}
	return order, groups
}
