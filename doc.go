// Package adns is an asynchronous DNS host name resolver.
//
// A single background worker multiplexes any number of outstanding
// resolutions over one UDP socket, speaking raw RFC 1035 wire format. Each
// resolution is issued as an AAAA query first and retried once as an A query
// when the name has no IPv6 record; the caller gets exactly one completion
// callback per accepted request: on success, no-such-host, timeout, protocol
// error, engine failure, or not at all after a successful cancel.
//
// # Basic usage
//
// Create one Service per process and hand it a Lookup per in-flight request:
//
//	svc := adns.New()
//	defer svc.Shutdown()
//
//	l := adns.NewLookup(func(outcome adns.Outcome, addr netip.Addr) {
//		if outcome == adns.OutcomeResolved {
//			fmt.Println("resolved:", addr)
//		}
//	})
//	if err := svc.Resolve(l, "example.com", 5*time.Second); err != nil {
//		log.Fatal(err)
//	}
//
// Or use the blocking form:
//
//	addr, err := svc.LookupHost(ctx, "example.com", 5*time.Second)
//
// # Concurrency
//
// Resolve, Cancel and Shutdown are safe from any goroutine and never block on
// network I/O. Completion callbacks run on the worker goroutine with no
// internal lock held, so a callback may call back into the Service, including
// resolving again on the same handle. Cancel guarantees that after it
// returns, the callback either never fires (Cancel returned true) or has
// already finished (false).
//
// The worker starts lazily on the first Resolve, exits when it has no
// outstanding work, and is replaced transparently by the next Resolve.
//
// # Scope
//
// Queries are single-question, class IN, type A or AAAA, UDP only. There is
// no TCP fallback, no DNSSEC, no compression-pointer chasing beyond skipping
// a single reference, and no caching of answers.
package adns
