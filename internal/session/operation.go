package session

import (
	"context"

	"github.com/google/uuid"
)

// Operation is the pending result of a Download, Delete or List call.
type Operation struct {
	id   string
	done chan struct{}
	err  error
	diag Diagnostics
}

func newOperation() *Operation {
	return &Operation{id: uuid.NewString(), done: make(chan struct{})}
}

// ID identifies the operation in log lines.
func (o *Operation) ID() string { return o.id }

// Done is closed once the operation, including any diagnostics, has finished.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Err reports the primary outcome; only meaningful after Done is closed.
func (o *Operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Diagnostics returns what the post-download checks found, if any ran.
func (o *Operation) Diagnostics() Diagnostics {
	select {
	case <-o.done:
		return o.diag
	default:
		return Diagnostics{}
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
