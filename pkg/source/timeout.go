package source

import (
	"context"
	"time"
)

// DefaultFetchTimeout bounds a single platform reading.
const DefaultFetchTimeout = time.Second

type timeoutSource struct {
	inner   Source
	timeout time.Duration
}

// WithTimeout bounds every read of src by d. A read that does not finish in
// time returns an error matching ErrFetchTimeout; the late reply is dropped.
func WithTimeout(src Source, d time.Duration) Source {
	if d <= 0 {
		d = DefaultFetchTimeout
	}
	return &timeoutSource{inner: src, timeout: d}
}

func (t *timeoutSource) Name() string {
	return t.inner.Name()
}

func (t *timeoutSource) ReadVoltage(ctx context.Context) (int, error) {
	return t.do(ctx, "read voltage", t.inner.ReadVoltage)
}

func (t *timeoutSource) ReadTemperature(ctx context.Context) (int, error) {
	return t.do(ctx, "read temperature", t.inner.ReadTemperature)
}

type reply struct {
	v   int
	err error
}

func (t *timeoutSource) do(ctx context.Context, op string, read func(context.Context) (int, error)) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// Buffered so a reader that ignores ctx can still finish and exit.
	ch := make(chan reply, 1)
	go func() {
		v, err := read(ctx)
		ch <- reply{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, fetchError(op, r.err)
	case <-ctx.Done():
		return 0, &FetchError{Op: op, Timeout: true, Err: ctx.Err()}
	}
}
