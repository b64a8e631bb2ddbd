package settlement

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"

	"github.com/uhyunpark/escrowd/pkg/storage"
)

var mon = monkit.Package()

// Executor carries out a batch against the invocation's provisional state.
// Returning an error discards the invocation.
type Executor interface {
	Execute(ctx context.Context, rw storage.ReadWriter, b *Batch) error
}

// Chain runs executors in order and stops at the first failure.
type Chain []Executor

func (c Chain) Execute(ctx context.Context, rw storage.ReadWriter, b *Batch) (err error) {
	defer mon.Task()(&ctx)(&err)
	for _, ex := range c {
		if err := ex.Execute(ctx, rw, b); err != nil {
			return err
		}
	}
	return nil
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, rw storage.ReadWriter, b *Batch) error

func (f ExecutorFunc) Execute(ctx context.Context, rw storage.ReadWriter, b *Batch) error {
	return f(ctx, rw, b)
}
