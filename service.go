package adns

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lc/adns/internal/clock"
	"github.com/lc/adns/internal/filesys"
	"github.com/lc/adns/internal/log"
	"github.com/lc/adns/internal/resolvconf"
	"github.com/lc/adns/internal/wire"
)

// Service is the resolver supervisor. It owns the registry lock and the
// identity of the current lookup engine, starting one lazily on the first
// Resolve and replacing it when a drained engine winds down. All methods are
// safe for concurrent use from any goroutine, and none of them block on
// network I/O.
//
// A Service must be shut down with Shutdown once no more resolutions are
// wanted; every outstanding request must have completed or been canceled
// before that.
type Service struct {
	// mu is the registry lock: it guards the current engine's identity and
	// every piece of its registry state. It is never held while a completion
	// callback runs.
	mu  sync.Mutex
	eng *engine

	// inFlight maps each handle whose completion callback is currently
	// executing to the engine running it, which may already have been
	// replaced as the current engine. Guarded by mu.
	inFlight map[*Lookup]*engine

	clk      clock.Clock
	discover func() (netip.AddrPort, bool)
	ipv4Only bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the tick source. Used by tests to simulate wraparound.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clk = c }
}

// WithDiscoverer replaces the system DNS server discovery used when a
// resolution does not name a server explicitly.
func WithDiscoverer(fn func() (netip.AddrPort, bool)) Option {
	return func(s *Service) { s.discover = fn }
}

// IPv4Only makes resolutions start with an A query instead of AAAA, for
// environments known to lack IPv6 resolution.
func IPv4Only() Option {
	return func(s *Service) { s.ipv4Only = true }
}

// New creates a resolver Service. No goroutine or socket exists until the
// first Resolve call.
func New(opts ...Option) *Service {
	s := &Service{
		inFlight: make(map[*Lookup]*engine),
		clk:      clock.System(),
		discover: func() (netip.AddrPort, bool) {
			return resolvconf.Discover(filesys.OS())
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ResolveOption configures a single resolution.
type ResolveOption func(*resolveOpts)

type resolveOpts struct {
	server netip.AddrPort
}

// WithServer sends the query to addr instead of the system-discovered
// resolver.
func WithServer(addr netip.AddrPort) ResolveOption {
	return func(o *resolveOpts) { o.server = addr }
}

// Resolve starts an asynchronous resolution of hostname on the given lookup
// handle. The completion callback fires exactly once with the terminal
// outcome unless the request is canceled first.
//
// It fails synchronously, creating no state, with ErrNameTooLong,
// ErrAlreadyInProgress or ErrTooManyRequests. The timeout counts from now;
// values above a quarter of the 32-bit millisecond tick range (about 12 days)
// are clamped.
func (s *Service) Resolve(l *Lookup, hostname string, timeout time.Duration, opts ...ResolveOption) error {
	if len(hostname) > wire.MaxHostname {
		return ErrNameTooLong
	}
	var ro resolveOpts
	for _, o := range opts {
		o(&ro)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng != nil && s.eng.byHandle[l] != nil {
		return ErrAlreadyInProgress
	}

	fresh := false
	if s.eng == nil || s.eng.exiting.Load() {
		// No engine yet, or the current one is winding down: start a fresh
		// one and let it join its predecessor in the background.
		s.eng = newEngine(s, s.eng)
		fresh = true
	}
	e := s.eng

	id, ok := freeID(e.ids)
	if !ok {
		return ErrTooManyRequests
	}

	qtype := wire.TypeAAAA
	if s.ipv4Only {
		qtype = wire.TypeA
	}

	r := &request{
		handle:   l,
		uid:      uuid.NewString(),
		hostname: hostname,
		qtype:    qtype,
		id:       id,
		server:   ro.server,
	}

	now := s.clk.Ticks()
	ticks := timeoutTicks(timeout)
	r.expiry = now + ticks // wraps naturally

	// An expiry numerically below the current tick means the deadline lands
	// after the wraparound; it belongs to the next half-cycle bucket.
	bucket := e.current
	if r.expiry < now {
		bucket = e.next
	}
	e.insertRequest(r, bucket)
	log.Debugf("service: resolving %q type=%s id=%d timeout=%s uid=%s",
		hostname, qtype, id, timeout, r.uid)

	if fresh {
		e.lastFirstHalf = now < halfRange
		go e.run()
	} else {
		e.wake()
	}
	return nil
}

// Cancel removes the lookup's outstanding request, if any. It returns true
// when the request was removed before completing: the callback has not fired
// and never will. It returns false when there was nothing to remove: either
// no resolution was outstanding or its callback was already in flight; in the
// latter case Cancel blocks until that callback has returned, so the caller
// never observes a completion after Cancel.
//
// The wait applies only to l's own in-flight callback. Canceling any other
// handle never blocks, so a completion callback may cancel sibling lookups
// without deadlocking the worker goroutine. The one thing a callback must not
// do is cancel the very handle it is running for; that wait could only be
// satisfied by the callback returning.
func (s *Service) Cancel(l *Lookup) bool {
	s.mu.Lock()
	if e := s.eng; e != nil {
		if r := e.removeRequest(l); r != nil {
			log.Debugf("service: canceled resolution of %q uid=%s", r.hostname, r.uid)
			if len(e.byHandle) == 0 {
				// Nothing left; let the engine notice and drain.
				e.wake()
			}
			s.mu.Unlock()
			return true
		}
	}
	// Nothing outstanding. If l's callback is mid-flight, wait it out on
	// whichever engine is running it; that engine may already have been
	// replaced as the current one.
	eng := s.inFlight[l]
	s.mu.Unlock()

	if eng != nil {
		eng.callbackMu.Lock()
		eng.callbackMu.Unlock() //nolint:staticcheck // empty critical section is the point
	}
	return false
}

// Shutdown stops the current engine, if any, and waits for its goroutine to
// finish. Every resolution must have completed or been canceled beforehand;
// an outstanding request at shutdown is a programming error and panics.
func (s *Service) Shutdown() {
	s.mu.Lock()
	e := s.eng
	s.mu.Unlock()
	if e == nil {
		return
	}

	e.quit()
	<-e.done

	s.mu.Lock()
	outstanding := len(e.byHandle)
	if s.eng == e {
		s.eng = nil
	}
	s.mu.Unlock()

	if outstanding != 0 {
		panic("adns: Shutdown with resolutions still outstanding; cancel them first")
	}
	log.Debug("service: shut down")
}

// LookupHost is the blocking convenience form of Resolve. It resolves
// hostname and returns the address, or the sentinel error matching the
// terminal outcome. Cancellation of ctx cancels the request.
func (s *Service) LookupHost(ctx context.Context, hostname string, timeout time.Duration, opts ...ResolveOption) (netip.Addr, error) {
	type completion struct {
		outcome Outcome
		addr    netip.Addr
	}
	ch := make(chan completion, 1)
	l := NewLookup(func(o Outcome, a netip.Addr) {
		ch <- completion{outcome: o, addr: a}
	})

	if err := s.Resolve(l, hostname, timeout, opts...); err != nil {
		return netip.Addr{}, err
	}

	select {
	case c := <-ch:
		return c.addr, c.outcome.Err()
	case <-ctx.Done():
		if s.Cancel(l) {
			return netip.Addr{}, ctx.Err()
		}
		// Cancel lost the race: the callback has already run and the
		// completion is sitting in the channel.
		c := <-ch
		return c.addr, c.outcome.Err()
	}
}

func timeoutTicks(timeout time.Duration) uint32 {
	if timeout <= 0 {
		return 0
	}
	ms := timeout / time.Millisecond
	if uint64(ms) >= uint64(quarterRange) {
		return quarterRange - 1
	}
	return uint32(ms)
}
