package event

import "time"

// Event is a typed occurrence with a timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// ChangeKind classifies a filesystem mutation.
type ChangeKind string

const (
	KindCreated  ChangeKind = "created"
	KindModified ChangeKind = "modified"
	KindRemoved  ChangeKind = "removed"
)

// ChangeEvent is a single filesystem mutation on a watched path.
type ChangeEvent struct {
	Path       string
	Kind       ChangeKind
	OccurredAt time.Time
}

func NewChangeEvent(path string, kind ChangeKind) ChangeEvent {
	return ChangeEvent{
		Path:       path,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ChangeEvent) Type() string {
	return "file_changed"
}

func (e ChangeEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// ReloadEvent marks a successfully completed reload.
type ReloadEvent struct {
	CompletedAt time.Time
}

func NewReloadEvent() ReloadEvent {
	return ReloadEvent{CompletedAt: time.Now().UTC()}
}

func (e ReloadEvent) Type() string {
	return "reload_completed"
}

func (e ReloadEvent) Timestamp() time.Time {
	return e.CompletedAt
}
