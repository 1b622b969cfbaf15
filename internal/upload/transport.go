package upload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"milestonehub/internal/model"
)

// Transport moves the bytes of one file. Transfer starts at offset (the last
// acknowledged byte) and calls ack, sequentially and with non-decreasing
// values, as bytes are confirmed. A nil return means every byte is stored.
// Transient failures should be wrapped in TransientError so the worker can
// resume from the last acknowledged offset.
type Transport interface {
	Transfer(ctx context.Context, file model.UploadedFile, offset int64, ack func(acked int64)) error
}

// TransientError marks a transport failure that may succeed on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return "transient transfer failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

// TransferError is the terminal failure of one file's upload.
type TransferError struct {
	FileID   string
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of file %s failed after %d attempt(s): %v", e.FileID, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// SimulatedTransport stands in for a real object-store client: every tick it
// acknowledges a random 0..MaxStep percent of the file.
type SimulatedTransport struct {
	Tick    time.Duration
	MaxStep int

	intn func(n int) int
}

const (
	defaultTick    = 200 * time.Millisecond
	defaultMaxStep = 15
)

func NewSimulatedTransport(tick time.Duration, maxStep int) *SimulatedTransport {
	if tick <= 0 {
		tick = defaultTick
	}
	if maxStep <= 0 {
		maxStep = defaultMaxStep
	}
	return &SimulatedTransport{Tick: tick, MaxStep: maxStep, intn: rand.IntN}
}

// WithRand replaces the random source; intn must return a value in [0, n).
func (t *SimulatedTransport) WithRand(intn func(n int) int) *SimulatedTransport {
	t.intn = intn
	return t
}

func (t *SimulatedTransport) Transfer(ctx context.Context, file model.UploadedFile, offset int64, ack func(acked int64)) error {
	pct := percentOf(offset, file.Size)
	if file.Size == 0 {
		pct = 0
	}

	tick := t.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for pct < 100 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		pct = min(pct+t.intn(t.MaxStep+1), 100)
		ack(file.Size * int64(pct) / 100)
	}
	return nil
}

// percentOf converts acknowledged bytes into a 0..100 progress value.
func percentOf(acked, size int64) int {
	if size <= 0 {
		return 0
	}
	if acked >= size {
		return 100
	}
	return int(acked * 100 / size)
}
