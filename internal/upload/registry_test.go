package upload

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestonehub/internal/model"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(fileID string) []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventKind
	for _, ev := range l.events {
		if fileID == "" || ev.File.ID == fileID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("f-%d", n)
	}
}

func newTestRegistry(opts ...RegistryOption) *Registry {
	base := []RegistryOption{
		WithIDGenerator(sequentialIDs()),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }),
	}
	return NewRegistry(append(base, opts...)...)
}

func TestRegister(t *testing.T) {
	r := newTestRegistry()

	f, err := r.Register(model.FileDescriptor{Name: "  survey.pdf ", Size: 1000, Type: "application/pdf"})
	require.NoError(t, err)

	assert.Equal(t, "f-1", f.ID)
	assert.Equal(t, "survey.pdf", f.Name)
	assert.Equal(t, model.FileUploading, f.Status)
	assert.Equal(t, 0, f.Progress)
	assert.Equal(t, 1, f.Version)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_InvalidDescriptor(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name string
		d    model.FileDescriptor
	}{
		{"empty name", model.FileDescriptor{Name: "", Size: 10}},
		{"blank name", model.FileDescriptor{Name: "   ", Size: 10}},
		{"negative size", model.FileDescriptor{Name: "a.pdf", Size: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.d)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegister_ZeroSizeAllowed(t *testing.T) {
	r := newTestRegistry()
	f, err := r.Register(model.FileDescriptor{Name: "empty.txt", Size: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Size)
}

func TestApplyProgress_Monotonic(t *testing.T) {
	r := newTestRegistry()
	log := &eventLog{}
	r.Subscribe(log.record)

	f, err := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 100})
	require.NoError(t, err)

	require.NoError(t, r.ApplyProgress(f.ID, 40))
	require.NoError(t, r.ApplyProgress(f.ID, 30))
	require.NoError(t, r.ApplyProgress(f.ID, 40))
	require.NoError(t, r.ApplyProgress(f.ID, 250))

	got, ok := r.Get(f.ID)
	require.True(t, ok)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, model.FileUploading, got.Status)

	assert.Equal(t, []EventKind{EventRegistered, EventProgress, EventProgress}, log.kinds(f.ID))
}

func TestApplyProgress_Errors(t *testing.T) {
	r := newTestRegistry()

	assert.ErrorIs(t, r.ApplyProgress("missing", 10), ErrFileNotFound)

	f, err := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 100})
	require.NoError(t, err)
	require.NoError(t, r.MarkUploaded(f.ID))

	assert.ErrorIs(t, r.ApplyProgress(f.ID, 10), ErrNotUploading)
	assert.ErrorIs(t, r.MarkUploaded(f.ID), ErrNotUploading)
	assert.ErrorIs(t, r.MarkRejected(f.ID, "late"), ErrNotUploading)
}

func TestMarkUploaded_PinsProgress(t *testing.T) {
	r := newTestRegistry()
	f, err := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 100})
	require.NoError(t, err)
	require.NoError(t, r.ApplyProgress(f.ID, 70))
	require.NoError(t, r.MarkUploaded(f.ID))

	got, _ := r.Get(f.ID)
	assert.Equal(t, model.FileUploaded, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestWithdraw(t *testing.T) {
	r := newTestRegistry()
	log := &eventLog{}
	r.Subscribe(log.record)

	f, err := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 100})
	require.NoError(t, err)

	removed, err := r.Withdraw(f.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Withdraw(f.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, r.ApplyProgress(f.ID, 50), ErrFileNotFound)
	assert.ErrorIs(t, r.MarkUploaded(f.ID), ErrFileNotFound)

	assert.Equal(t, []EventKind{EventRegistered, EventWithdrawn}, log.kinds(f.ID))
	assert.Equal(t, 0, r.Len())
}

func TestRetry_ReplacesRejectedFile(t *testing.T) {
	r := newTestRegistry()

	a, err := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 100})
	require.NoError(t, err)
	b, err := r.Register(model.FileDescriptor{Name: "b.pdf", Size: 200})
	require.NoError(t, err)
	require.NoError(t, r.ApplyProgress(b.ID, 30))

	_, err = r.Retry(a.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	require.NoError(t, r.MarkRejected(a.ID, "checksum mismatch"))
	rejected, _ := r.Get(a.ID)
	assert.Equal(t, "checksum mismatch", rejected.Error)

	retried, err := r.Retry(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, retried.ID)
	assert.Equal(t, "a.pdf", retried.Name)
	assert.Equal(t, 2, retried.Version)
	assert.Equal(t, model.FileUploading, retried.Status)

	_, ok := r.Get(a.ID)
	assert.False(t, ok)

	sibling, _ := r.Get(b.ID)
	assert.Equal(t, 30, sibling.Progress)
	assert.Equal(t, 2, r.Len())

	_, err = r.Retry("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestVersionPolicy(t *testing.T) {
	t.Run("bump on reupload", func(t *testing.T) {
		r := newTestRegistry()
		f, _ := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
		_, _ = r.Withdraw(f.ID)
		f2, _ := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
		assert.Equal(t, 2, f2.Version)

		other, _ := r.Register(model.FileDescriptor{Name: "b.pdf", Size: 1})
		assert.Equal(t, 1, other.Version)
	})

	t.Run("always first version", func(t *testing.T) {
		r := newTestRegistry(WithVersionPolicy(AlwaysFirstVersion))
		f, _ := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
		_, _ = r.Withdraw(f.ID)
		f2, _ := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
		assert.Equal(t, 1, f2.Version)
	})
}

func TestSeal(t *testing.T) {
	r := newTestRegistry()
	f, err := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 100})
	require.NoError(t, err)
	require.NoError(t, r.MarkUploaded(f.ID))

	files := r.Seal()
	require.Len(t, files, 1)
	assert.True(t, r.Sealed())

	_, err = r.Register(model.FileDescriptor{Name: "b.pdf", Size: 1})
	assert.ErrorIs(t, err, ErrSealed)
	_, err = r.Withdraw(f.ID)
	assert.ErrorIs(t, err, ErrSealed)

	removed, err := r.Withdraw("missing")
	assert.NoError(t, err)
	assert.False(t, removed)

	r.Unseal()
	removed, err = r.Withdraw(f.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry()
	a, _ := r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
	b, _ := r.Register(model.FileDescriptor{Name: "b.pdf", Size: 1})
	_, _ = r.Register(model.FileDescriptor{Name: "c.pdf", Size: 1})

	require.NoError(t, r.MarkUploaded(a.ID))
	require.NoError(t, r.MarkRejected(b.ID, "boom"))

	s := r.Snapshot()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Uploading)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, []string{s.Files[0].Name, s.Files[1].Name, s.Files[2].Name})
}

func TestClear(t *testing.T) {
	r := newTestRegistry()
	log := &eventLog{}
	r.Subscribe(log.record)

	_, _ = r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.List())
	assert.Equal(t, []EventKind{EventRegistered, EventCleared}, log.kinds(""))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	r := newTestRegistry()
	log := &eventLog{}
	unsubscribe := r.Subscribe(log.record)

	_, _ = r.Register(model.FileDescriptor{Name: "a.pdf", Size: 1})
	unsubscribe()
	_, _ = r.Register(model.FileDescriptor{Name: "b.pdf", Size: 1})

	assert.Len(t, log.kinds(""), 1)
}
