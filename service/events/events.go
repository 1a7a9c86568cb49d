// Package events defines the change notifications the store emits after a
// successful mutation.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/brojonat/p2pdash/service/txn"
	"github.com/google/uuid"
)

// Type names the mutation that produced an event.
type Type string

const (
	TypeCreated Type = "created"
	TypeDeleted Type = "deleted"
	TypeReset   Type = "reset"
)

// TransactionEvent describes one committed change to the collection.
// For TypeReset the Transaction is zero and Count holds the new collection size.
type TransactionEvent struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Transaction txn.Transaction `json:"transaction"`
	Count       int             `json:"count"`
	PublishedAt time.Time       `json:"published_at"`
}

// New builds an event with a fresh id.
func New(typ Type, tx txn.Transaction, count int) *TransactionEvent {
	return &TransactionEvent{
		ID:          uuid.New().String(),
		Type:        typ,
		Transaction: tx,
		Count:       count,
		PublishedAt: time.Now().UTC(),
	}
}

// Notifier delivers events to interested parties.
type Notifier interface {
	Notify(ctx context.Context, event *TransactionEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event *TransactionEvent) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event *TransactionEvent) error {
	return f(ctx, event)
}

// Multi fans an event out to every notifier, returning the joined errors.
// Nil entries are skipped.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event *TransactionEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
