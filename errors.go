package nalix

import "github.com/pkg/errors"

// Sentinel errors surfaced by Server itself, distinct from the
// subsystem-scoped sentinels each package already defines
// (transport.Err*, wire.Err*, registry.Err*, dispatch's backpressure
// is never an error value at all, per §7's "never throw on push/pull").
var (
	// ErrAlreadyStarted is returned by Start if called more than once.
	ErrAlreadyStarted = errors.New("nalix: server already started")
	// ErrNotStarted is returned by Shutdown if Start was never called.
	ErrNotStarted = errors.New("nalix: server not started")
	// ErrInvalidConfig is returned by NewServer when the registry
	// argument is nil. Config fields are not validated (MaxParallel and
	// ShardCount below 1 are raised to 1).
	ErrInvalidConfig = errors.New("nalix: invalid configuration")
)
