package adns

import "errors"

// Outcome is the terminal result of a resolution, delivered to the lookup's
// completion callback exactly once.
type Outcome int

const (
	// OutcomeResolved means an address of the requested family was found.
	OutcomeResolved Outcome = iota
	// OutcomeNoSuchHost means the server reported that the name does not
	// exist (for an AAAA query, only after the A retry also came up empty).
	OutcomeNoSuchHost
	// OutcomeTimeout means no valid response arrived before the deadline.
	OutcomeTimeout
	// OutcomeProtocolError means the response was malformed or inconsistent
	// with the query.
	OutcomeProtocolError
	// OutcomeError means the engine failed the request: no DNS server is
	// known, the socket could not be opened, or it broke mid-flight.
	OutcomeError
)

// Sentinel errors corresponding to the non-success outcomes, returned by the
// blocking LookupHost convenience API.
var (
	ErrNoSuchHost    = errors.New("adns: no such host")
	ErrTimeout       = errors.New("adns: request timed out")
	ErrProtocolError = errors.New("adns: malformed DNS response")
	ErrEngineFailed  = errors.New("adns: resolution failed")
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeNoSuchHost:
		return "no such host"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeProtocolError:
		return "protocol error"
	case OutcomeError:
		return "error"
	default:
		return "outcome?"
	}
}

// Err maps the outcome to its sentinel error, or nil for OutcomeResolved.
func (o Outcome) Err() error {
	switch o {
	case OutcomeResolved:
		return nil
	case OutcomeNoSuchHost:
		return ErrNoSuchHost
	case OutcomeTimeout:
		return ErrTimeout
	case OutcomeProtocolError:
		return ErrProtocolError
	default:
		return ErrEngineFailed
	}
}
