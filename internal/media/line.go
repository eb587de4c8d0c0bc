package media

import "sync"

// Owner identifies which call kind currently holds the media line.
type Owner string

const (
	OwnerNone   Owner = ""
	OwnerDirect Owner = "direct"
	OwnerGroup  Owner = "group"
)

// Line serializes ownership of the single media session across the two
// call coordinators. Exactly one call attempt of either kind may hold it;
// starting a call of the other kind while it is held must refuse rather
// than drop the existing session.
type Line struct {
	mu    sync.Mutex
	owner Owner
}

// NewLine creates an unheld line.
func NewLine() *Line {
	return &Line{}
}

// Acquire claims the line for a call kind. Returns false when any call,
// of either kind, already holds it.
func (l *Line) Acquire(owner Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != OwnerNone {
		return false
	}
	l.owner = owner
	return true
}

// Release frees the line if held by the given kind. Releasing a line the
// kind does not hold is a no-op, so every exit path may release
// unconditionally.
func (l *Line) Release(owner Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = OwnerNone
	}
}

// Holder returns the current owner.
func (l *Line) Holder() Owner {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}
