package reload

import "errors"

var (
	// ErrTerminated is returned by every operation invoked after
	// Terminate. Termination is absorbing.
	ErrTerminated = errors.New("coordinator already terminated")

	// ErrHotReloadUnsupported means the launch configuration carries no
	// usable reload service endpoint; no coordinator is constructed.
	ErrHotReloadUnsupported = errors.New("hot reload not supported by current configuration")

	// ErrNoReloadTargets means the remote process listed no isolates.
	ErrNoReloadTargets = errors.New("remote process reported no reloadable targets")
)

// ReloadRejectedError is returned when the remote process refuses a
// reload. Detail is the remote-supplied reason, verbatim.
type ReloadRejectedError struct {
	Detail string
}

func (e *ReloadRejectedError) Error() string {
	if e.Detail == "" {
		return "reload rejected"
	}
	return "reload rejected: " + e.Detail
}
