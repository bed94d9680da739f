package worktree

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors returned by lease operations.
var (
	// ErrLeased is returned when a worktree is already owned by someone else.
	ErrLeased = errors.New("worktree is in use")

	// ErrNotOwner is returned when releasing a lease held by someone else.
	ErrNotOwner = errors.New("lease is held by another owner")
)

// Lease records exclusive ownership of a worktree path.
type Lease struct {
	Owner      string
	Path       string
	AcquiredAt time.Time
}

// Leases is an in-memory registry of worktree ownership. The shared
// sequential worktree of a run is leased by the phase using it so that no
// two phases or task executions touch it at the same time.
type Leases struct {
	mu     sync.Mutex
	leases map[string]Lease
}

// NewLeases creates an empty registry.
func NewLeases() *Leases {
	return &Leases{leases: make(map[string]Lease)}
}

// Acquire grants owner exclusive use of path. Re-acquiring a lease already
// held by the same owner is a no-op.
func (l *Leases) Acquire(owner, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.leases[path]; ok {
		if existing.Owner == owner {
			return nil
		}
		return fmt.Errorf("%w: %s holds %s", ErrLeased, existing.Owner, path)
	}
	l.leases[path] = Lease{Owner: owner, Path: path, AcquiredAt: time.Now()}
	return nil
}

// Release gives up owner's lease on path. Releasing an unleased path is a no-op.
func (l *Leases) Release(owner, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.leases[path]
	if !ok {
		return nil
	}
	if existing.Owner != owner {
		return fmt.Errorf("%w: %s holds %s", ErrNotOwner, existing.Owner, path)
	}
	delete(l.leases, path)
	return nil
}

// Holder returns the current owner of path.
func (l *Leases) Holder(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lease, ok := l.leases[path]
	return lease.Owner, ok
}
