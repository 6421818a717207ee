// Package syncgate tracks the single outstanding completion fence of the
// frame loop and bounds how long the loop waits on it.
package syncgate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutstanding is returned by Arm while a previous fence is unobserved.
	ErrOutstanding = errors.New("syncgate: fence already outstanding")

	// ErrTimeout reports that the outstanding fence did not signal in time.
	ErrTimeout = errors.New("syncgate: fence wait timed out")
)

// Fence is the completion signal of submitted device work.
type Fence interface {
	Done() <-chan struct{}
	Err() error
	Release()
}

// Status is the outcome of Wait.
type Status int

const (
	// StatusIdle means no fence was outstanding.
	StatusIdle Status = iota
	// StatusSignaled means the fence completed and has been released.
	StatusSignaled
	// StatusTimeout means the fence is still outstanding.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSignaled:
		return "signaled"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Gate holds at most one outstanding fence.
type Gate struct {
	timeout time.Duration
	fence   Fence
	armedAt time.Time
}

// New returns a gate whose waits give up after timeout. A non-positive
// timeout polls without blocking.
func New(timeout time.Duration) *Gate {
	return &Gate{timeout: timeout}
}

// Timeout is the bound applied by Wait.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// Pending reports whether a fence is outstanding.
func (g *Gate) Pending() bool { return g.fence != nil }

// Age is how long the outstanding fence has been armed.
func (g *Gate) Age() time.Duration {
	if g.fence == nil {
		return 0
	}
	return time.Since(g.armedAt)
}

// Arm records the fence of a dispatch just submitted.
func (g *Gate) Arm(f Fence) error {
	if f == nil {
		return errors.New("syncgate: nil fence")
	}
	if g.fence != nil {
		return ErrOutstanding
	}
	g.fence = f
	g.armedAt = time.Now()
	return nil
}

// Wait blocks until the outstanding fence signals, the timeout elapses or ctx
// is done. On StatusSignaled the fence is released and the returned error is
// the fence's execution error, if any. On StatusTimeout the fence stays
// outstanding and the error is ErrTimeout.
func (g *Gate) Wait(ctx context.Context) (Status, error) {
	if g.fence == nil {
		return StatusIdle, nil
	}
	select {
	case <-g.fence.Done():
		return g.consume()
	default:
	}
	if g.timeout <= 0 {
		return StatusTimeout, ErrTimeout
	}
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	select {
	case <-g.fence.Done():
		return g.consume()
	case <-timer.C:
		return StatusTimeout, ErrTimeout
	case <-ctx.Done():
		return StatusTimeout, ctx.Err()
	}
}

// WaitUnbounded blocks until the fence signals or ctx is done.
func (g *Gate) WaitUnbounded(ctx context.Context) (Status, error) {
	if g.fence == nil {
		return StatusIdle, nil
	}
	select {
	case <-g.fence.Done():
		return g.consume()
	case <-ctx.Done():
		return StatusTimeout, ctx.Err()
	}
}

func (g *Gate) consume() (Status, error) {
	f := g.fence
	g.fence = nil
	err := f.Err()
	f.Release()
	return StatusSignaled, err
}

// Abandon drops the outstanding fence without waiting. The device frees it
// when the work completes.
func (g *Gate) Abandon() {
	if g.fence != nil {
		g.fence.Release()
		g.fence = nil
	}
}
