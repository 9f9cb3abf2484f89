package adns

import (
	"errors"
	"net/netip"
)

// Synchronous rejection errors returned by Resolve before any request state
// is created.
var (
	// ErrNameTooLong is returned for host names longer than 253 bytes.
	ErrNameTooLong = errors.New("adns: host name longer than 253 bytes")
	// ErrAlreadyInProgress is returned when the lookup already has an
	// outstanding resolution.
	ErrAlreadyInProgress = errors.New("adns: resolution already in progress")
	// ErrTooManyRequests is returned when all 65536 DNS transaction ids are
	// taken by outstanding requests.
	ErrTooManyRequests = errors.New("adns: no free DNS transaction ids")
)

// Lookup is a caller handle for asynchronous host name resolution. A Lookup
// identifies at most one outstanding request at a time; starting a second
// resolution on the same handle before the first completes fails with
// ErrAlreadyInProgress.
//
// The completion callback is invoked exactly once per accepted Resolve call,
// on the engine goroutine, unless the request is removed first by a
// successful Cancel. It is safe for the callback to call back into the
// Service, including starting a new resolution on the same Lookup.
type Lookup struct {
	onCompleted func(Outcome, netip.Addr)
}

// NewLookup creates a resolution handle delivering results to onCompleted.
// The callback must not be nil.
func NewLookup(onCompleted func(Outcome, netip.Addr)) *Lookup {
	if onCompleted == nil {
		panic("adns: NewLookup requires a completion callback")
	}
	return &Lookup{onCompleted: onCompleted}
}
