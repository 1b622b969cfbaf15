package upload

import "milestonehub/internal/model"

type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventProgress   EventKind = "progress"
	EventUploaded   EventKind = "uploaded"
	EventRejected   EventKind = "rejected"
	EventWithdrawn  EventKind = "withdrawn"
	EventCleared    EventKind = "cleared"
)

// Event is a state change of one file in a Registry. File is a copy taken at
// the moment of the change; for EventCleared it is the zero value.
type Event struct {
	Kind EventKind
	File model.UploadedFile
}

// Listener receives registry events. It is called with the registry lock held,
// so it must return quickly and must not call back into the Registry.
type Listener func(Event)
