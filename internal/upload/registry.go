package upload

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"milestonehub/internal/model"
)

var (
	ErrSealed            = errors.New("file registry is sealed")
	ErrInvalidDescriptor = errors.New("invalid file descriptor")
	ErrFileNotFound      = errors.New("file not found")
	ErrNotUploading      = errors.New("file is not uploading")
	ErrNotRetryable      = errors.New("only rejected files can be retried")
)

// VersionPolicy decides the version of a new registration. prior is the highest
// version of a withdrawn or rejected file with the same name; found reports
// whether such a file exists.
type VersionPolicy func(prior int, found bool) int

// BumpOnReupload increments the version when a withdrawn or rejected
// deliverable is registered again under the same name.
func BumpOnReupload(prior int, found bool) int {
	if found {
		return prior + 1
	}
	return 1
}

// AlwaysFirstVersion ignores history; every registration is version 1.
func AlwaysFirstVersion(int, bool) int {
	return 1
}

// Snapshot is a consistent view of the registry taken under a single lock.
type Snapshot struct {
	Files     []model.UploadedFile
	Total     int
	Completed int
	Uploading int
	Rejected  int
}

type RegistryOption func(*Registry)

func WithVersionPolicy(p VersionPolicy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

type subscription struct {
	id int
	fn Listener
}

// Registry is the single owner of the files attached to one submission attempt.
// All writes are serialized by its mutex; events are emitted while it is held.
type Registry struct {
	mu        sync.RWMutex
	files     map[string]*model.UploadedFile
	order     []string
	released  map[string]int
	sealed    bool
	listeners []subscription
	nextSub   int

	policy VersionPolicy
	now    func() time.Time
	newID  func() string
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		files:    make(map[string]*model.UploadedFile),
		released: make(map[string]int),
		policy:   BumpOnReupload,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds a listener and returns a function that removes it.
func (r *Registry) Subscribe(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	id := r.nextSub
	r.listeners = append(r.listeners, subscription{id: id, fn: l})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.listeners {
			if s.id == id {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

func (r *Registry) emit(kind EventKind, f *model.UploadedFile) {
	ev := Event{Kind: kind}
	if f != nil {
		ev.File = *f
	}
	for _, s := range r.listeners {
		s.fn(ev)
	}
}

// Register creates a new record in the uploading state.
func (r *Registry) Register(d model.FileDescriptor) (model.UploadedFile, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return model.UploadedFile{}, fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.Size < 0 {
		return model.UploadedFile{}, fmt.Errorf("%w: negative size", ErrInvalidDescriptor)
	}
	d.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return model.UploadedFile{}, ErrSealed
	}
	return r.registerLocked(d), nil
}

func (r *Registry) registerLocked(d model.FileDescriptor) model.UploadedFile {
	prior, found := r.released[d.Name]

	id := r.newID()
	for _, exists := r.files[id]; exists; _, exists = r.files[id] {
		id = r.newID()
	}

	f := &model.UploadedFile{
		ID:         id,
		Name:       d.Name,
		Size:       d.Size,
		Type:       d.Type,
		UploadedAt: r.now(),
		Status:     model.FileUploading,
		Progress:   0,
		Version:    r.policy(prior, found),
	}
	r.files[id] = f
	r.order = append(r.order, id)
	r.emit(EventRegistered, f)
	return *f
}

// Withdraw removes a file regardless of its status. Unknown ids are a no-op.
func (r *Registry) Withdraw(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return false, nil
	}
	if r.sealed {
		return false, ErrSealed
	}
	r.removeLocked(f)
	return true, nil
}

func (r *Registry) removeLocked(f *model.UploadedFile) {
	delete(r.files, f.ID)
	for i, id := range r.order {
		if id == f.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.release(f)
	r.emit(EventWithdrawn, f)
}

func (r *Registry) release(f *model.UploadedFile) {
	if v, ok := r.released[f.Name]; !ok || f.Version > v {
		r.released[f.Name] = f.Version
	}
}

// Retry replaces a rejected file with a fresh registration of the same
// descriptor. Sibling files are not touched.
func (r *Registry) Retry(id string) (model.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return model.UploadedFile{}, ErrFileNotFound
	}
	if r.sealed {
		return model.UploadedFile{}, ErrSealed
	}
	if f.Status != model.FileRejected {
		return model.UploadedFile{}, ErrNotRetryable
	}
	d := f.Descriptor()
	r.removeLocked(f)
	return r.registerLocked(d), nil
}

// ApplyProgress records transfer progress. Values are clamped to 0..100 and
// never move backwards; a stale value is ignored without an event.
func (r *Registry) ApplyProgress(id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return ErrFileNotFound
	}
	if f.Status != model.FileUploading {
		return ErrNotUploading
	}
	progress = min(max(progress, 0), 100)
	if progress <= f.Progress {
		return nil
	}
	f.Progress = progress
	r.emit(EventProgress, f)
	return nil
}

// MarkUploaded finishes a transfer; progress is pinned at 100.
func (r *Registry) MarkUploaded(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return ErrFileNotFound
	}
	if f.Status != model.FileUploading {
		return ErrNotUploading
	}
	f.Progress = 100
	f.Status = model.FileUploaded
	r.emit(EventUploaded, f)
	return nil
}

// MarkRejected ends a failed transfer. The file stays in the registry so the
// caller can retry it.
func (r *Registry) MarkRejected(id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return ErrFileNotFound
	}
	if f.Status != model.FileUploading {
		return ErrNotUploading
	}
	f.Status = model.FileRejected
	f.Error = reason
	r.release(f)
	r.emit(EventRejected, f)
	return nil
}

func (r *Registry) Get(id string) (model.UploadedFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return model.UploadedFile{}, false
	}
	return *f, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// List returns a copy of the files ordered by registration time.
func (r *Registry) List() []model.UploadedFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []model.UploadedFile {
	out := make([]model.UploadedFile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.files[id])
	}
	return out
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{Files: r.listLocked(), Total: len(r.order)}
	for _, f := range s.Files {
		switch {
		case f.Status == model.FileUploading:
			s.Uploading++
		case f.Status == model.FileRejected:
			s.Rejected++
		case f.Status.Delivered():
			s.Completed++
		}
	}
	return s
}

// Seal freezes the file set and returns it. Register, Withdraw and Retry fail
// with ErrSealed until Unseal.
func (r *Registry) Seal() []model.UploadedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	return r.listLocked()
}

func (r *Registry) Unseal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = false
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Clear drops every file. The sealed flag and version history are kept.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files = make(map[string]*model.UploadedFile)
	r.order = nil
	r.emit(EventCleared, nil)
}
