package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout matches the ISO-8601 form browsers emit from Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInvalidTransaction is returned when a draft fails validation.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Statuses lists the known statuses in display order.
var Statuses = []Status{StatusPending, StatusCompleted, StatusFailed}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Filter narrows a listing to one status, or to none with FilterAll.
type Filter string

// FilterAll matches every status, including unknown ones.
const FilterAll Filter = "All"

// ParseFilter parses a status filter. The empty string means FilterAll.
func ParseFilter(s string) (Filter, error) {
	if s == "" || s == string(FilterAll) {
		return FilterAll, nil
	}
	if !Status(s).Valid() {
		return "", fmt.Errorf("invalid status filter %q: must be one of All, Pending, Completed, Failed", s)
	}
	return Filter(s), nil
}

// Transaction is a single sender to receiver transfer.
type Transaction struct {
	ID        int64           `json:"id"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	Timestamp string          `json:"timestamp"`
}

// wireTransaction carries the amount as a bare JSON number, which is how the
// cached payload has always been encoded.
type wireTransaction struct {
	ID        int64           `json:"id"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Amount    json.RawMessage `json:"amount"`
	Status    Status          `json:"status"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON encodes the amount as a JSON number rather than a string.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTransaction{
		ID:        t.ID,
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		Amount:    json.RawMessage(t.Amount.String()),
		Status:    t.Status,
		Timestamp: t.Timestamp,
	})
}

// Matches reports whether t passes the status filter and contains query
// (case-insensitively) in its sender, receiver or amount text.
func (t Transaction) Matches(filter Filter, query string) bool {
	if filter != FilterAll && filter != "" && Status(filter) != t.Status {
		return false
	}
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(t.Sender), q) ||
		strings.Contains(strings.ToLower(t.Receiver), q) ||
		strings.Contains(strings.ToLower(t.Amount.String()), q)
}

// Time parses the timestamp. Seeded records may carry any string, so callers
// must handle the error.
func (t Transaction) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, t.Timestamp)
}

// Draft is the caller-supplied part of a new transaction.
type Draft struct {
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver"`
	Amount   decimal.Decimal `json:"amount"`
	Status   Status          `json:"status"`
}

// Validate checks the draft, returning an error wrapping ErrInvalidTransaction
// that lists every problem found.
func (d Draft) Validate() error {
	var problems []string

	if strings.TrimSpace(d.Sender) == "" {
		problems = append(problems, "sender is required")
	}
	if strings.TrimSpace(d.Receiver) == "" {
		problems = append(problems, "receiver is required")
	}
	if d.Amount.IsNegative() {
		problems = append(problems, "amount cannot be negative")
	}
	if !d.Status.Valid() {
		problems = append(problems, fmt.Sprintf("status %q must be one of Pending, Completed, Failed", d.Status))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, strings.Join(problems, "; "))
	}
	return nil
}

// Build turns the draft into a transaction with the given identity.
func (d Draft) Build(id int64, at time.Time) Transaction {
	return Transaction{
		ID:        id,
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		Amount:    d.Amount,
		Status:    d.Status,
		Timestamp: at.UTC().Format(TimestampLayout),
	}
}

// Encode serializes a collection the way the persistent cache stores it.
func Encode(txns []Transaction) ([]byte, error) {
	if txns == nil {
		txns = []Transaction{}
	}
	return json.Marshal(txns)
}

// Decode parses a serialized collection.
func Decode(data []byte) ([]Transaction, error) {
	var txns []Transaction
	if err := json.Unmarshal(data, &txns); err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []Transaction{}
	}
	return txns, nil
}
