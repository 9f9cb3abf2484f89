package adns

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"

	"github.com/lc/adns/internal/log"
	"github.com/lc/adns/internal/wire"
)

// Small buffers so producers never stall the engine and vice versa.
const (
	_cmdBufferSize  = 16
	_recvBufferSize = 8
)

type command int

const (
	// cmdWake makes the loop run another iteration (new work was queued).
	cmdWake command = iota
	// cmdQuit stops the loop regardless of outstanding requests.
	cmdQuit
)

// engine is one lookup worker. It owns the request registry, the expiry
// buckets, the send queue and the UDP socket; a single goroutine runs the
// event loop and is the only place completion callbacks fire. All registry
// state is guarded by the owning Service's registry lock.
type engine struct {
	svc *Service

	conn   *net.UDPConn
	server netip.AddrPort // discovered default, zero when unknown

	cmdCh  chan command
	recvCh chan []byte
	done   chan struct{} // closed when the run goroutine has fully stopped

	// prev is the previous engine instance, joined before this one starts.
	prev *engine

	// exiting marks the engine as draining: new resolutions must go to a
	// fresh engine. Set only under the registry lock.
	exiting atomic.Bool

	// callbackMu is held for the duration of every completion callback.
	// Together with the service's in-flight table it lets Cancel wait out
	// the callback of the one handle it targets, and only that one.
	callbackMu sync.Mutex

	byHandle map[*Lookup]*request
	byID     map[uint16]*request
	ids      []uint16 // ascending in-use transaction ids

	current, next *reqHeap
	lastFirstHalf bool

	sendQ []*request
}

func newEngine(svc *Service, prev *engine) *engine {
	return &engine{
		svc:      svc,
		cmdCh:    make(chan command, _cmdBufferSize),
		recvCh:   make(chan []byte, _recvBufferSize),
		done:     make(chan struct{}),
		prev:     prev,
		byHandle: make(map[*Lookup]*request),
		byID:     make(map[uint16]*request),
		current:  new(reqHeap),
		next:     new(reqHeap),
	}
}

// wake nudges the event loop without blocking. Dropping the message is fine:
// a full command buffer means the loop has wakeups pending already.
func (e *engine) wake() {
	select {
	case e.cmdCh <- cmdWake:
	default:
	}
}

// quit asks the loop to stop. Blocks until the message is queued or the
// engine is already done.
func (e *engine) quit() {
	select {
	case e.cmdCh <- cmdQuit:
	case <-e.done:
	}
}

// run is the engine event loop. It joins any predecessor, discovers the
// system resolver, opens the socket, and then multiplexes received packets,
// control messages and expiry deadlines until the registry drains or a quit
// arrives.
func (e *engine) run() {
	defer close(e.done)

	if e.prev != nil {
		<-e.prev.done
		e.prev = nil
		log.Debug("engine: previous worker joined")
	}

	if srv, ok := e.svc.discover(); ok {
		e.server = srv
		log.Debugf("engine: system DNS server %s", srv)
	} else {
		// Not fatal: requests with an explicit server still work, the rest
		// fail individually at send time.
		log.Debug("engine: no system DNS server discovered")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		log.Warnf("engine: opening UDP socket: %v", err)
		e.svc.mu.Lock()
		e.exiting.Store(true)
		e.failAll()
		e.svc.mu.Unlock()
		return
	}
	e.conn = conn
	go e.readLoop()

	log.Debug("engine: lookup worker started")
	e.loop()

	conn.Close()
	for range e.recvCh {
		// discard until readLoop observes the closed socket
	}
	log.Debug("engine: lookup worker stopped")
}

func (e *engine) loop() {
	for {
		e.svc.mu.Lock()
		e.flushSendQueue()
		if e.exiting.Load() {
			// A fatal send error drained the registry.
			e.svc.mu.Unlock()
			return
		}
		e.expirePass()
		if len(e.byHandle) == 0 {
			e.exiting.Store(true)
			e.svc.mu.Unlock()
			return
		}
		wait := e.nextWait()
		e.svc.mu.Unlock()

		select {
		case pkt, ok := <-e.recvCh:
			if !ok {
				// The socket broke underneath us; there is nothing left to
				// deliver responses on.
				e.svc.mu.Lock()
				e.exiting.Store(true)
				e.failAll()
				e.svc.mu.Unlock()
				return
			}
			e.svc.mu.Lock()
			e.handlePacket(pkt)
			e.svc.mu.Unlock()
		case cmd := <-e.cmdCh:
			if cmd == cmdQuit {
				e.svc.mu.Lock()
				e.exiting.Store(true)
				e.svc.mu.Unlock()
				return
			}
		case <-time.After(wait):
		}
	}
}

// readLoop pumps datagrams from the socket into recvCh until the socket is
// closed or fails. Closing recvCh signals the event loop either way.
func (e *engine) readLoop() {
	defer close(e.recvCh)
	buf := make([]byte, wire.MaxPacketSize)
	for {
		n, _, err := e.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warnf("engine: socket read: %v", err)
			}
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		e.recvCh <- pkt
	}
}

// handlePacket matches a received datagram against an outstanding request and
// either completes it or re-queues it as an A query. Caller holds the
// registry lock.
func (e *engine) handlePacket(pkt []byte) {
	if len(pkt) < wire.HeaderSize+1 {
		// Too short to carry a header plus a question name; ignore.
		return
	}
	id := binary.BigEndian.Uint16(pkt)
	r, ok := e.byID[id]
	if !ok {
		log.Debugf("engine: response for unknown transaction id=%d", id)
		return
	}

	// Match the echoed question name before trusting the transaction id;
	// ids alone are too narrow to correlate on a shared socket.
	host, _, ok := wire.ParseName(pkt, wire.HeaderSize)
	if !ok || host != r.hostname {
		return
	}

	res := wire.Decode(pkt, r.hostname, r.qtype)

	if res.Status == wire.StatusNoSuchHost && r.qtype == wire.TypeAAAA {
		// No AAAA record: retry the same transaction once as an A query.
		log.Debugf("engine: no AAAA record for %q, retrying as A uid=%s", r.hostname, r.uid)
		r.qtype = wire.TypeA
		if !r.queued {
			r.queued = true
			e.sendQ = append(e.sendQ, r)
		}
		return
	}

	e.removeRequest(r.handle)
	switch res.Status {
	case wire.StatusOK:
		e.complete(r, OutcomeResolved, res.Addr)
	case wire.StatusNoSuchHost:
		e.complete(r, OutcomeNoSuchHost, netip.Addr{})
	default:
		e.complete(r, OutcomeProtocolError, netip.Addr{})
	}
}

// flushSendQueue sends queued requests in FIFO order until the queue drains
// or the socket pushes back. Caller holds the registry lock.
func (e *engine) flushSendQueue() {
	for len(e.sendQ) > 0 {
		r := e.sendQ[0]
		if !r.queued {
			// Removed while waiting to be sent.
			e.sendQ = e.sendQ[1:]
			continue
		}

		if !r.server.IsValid() {
			r.server = e.server
		}
		if !r.server.IsValid() {
			e.removeRequest(r.handle)
			e.complete(r, OutcomeError, netip.Addr{})
			continue
		}

		pkt, err := wire.Encode(r.id, r.hostname, r.qtype)
		if err != nil {
			e.removeRequest(r.handle)
			e.complete(r, OutcomeProtocolError, netip.Addr{})
			continue
		}

		if _, err := e.conn.WriteToUDPAddrPort(pkt, r.server); err != nil {
			if isTransientSendErr(err) {
				// Flow-controlled; leave the queue intact and retry on the
				// next iteration.
				return
			}
			log.Warnf("engine: socket write: %v", err)
			e.exiting.Store(true)
			e.failAll()
			return
		}

		log.Debugf("engine: sent %s query for %q id=%d to %s uid=%s",
			r.qtype, r.hostname, r.id, r.server, r.uid)
		r.queued = false
		e.sendQ = e.sendQ[1:]
	}
}

// expirePass times out due requests and handles tick wraparound. Caller holds
// the registry lock.
func (e *engine) expirePass() {
	now := e.svc.clk.Ticks()

	firstHalf := now < halfRange
	if firstHalf && !e.lastFirstHalf {
		// The tick counter wrapped. Everything still in the current bucket
		// was scheduled before the wrap and is past due regardless of its
		// recorded expiry tick; the next bucket becomes current.
		log.Debug("engine: tick counter wrapped, swapping expiry buckets")
		stale := e.current
		e.current, e.next = e.next, e.current
		// Drain after the swap so a resolution started from inside one of
		// these timeout callbacks lands in the live bucket.
		for stale.Len() > 0 {
			r := e.removeRequest((*stale)[0].handle)
			e.complete(r, OutcomeTimeout, netip.Addr{})
		}
	}
	e.lastFirstHalf = firstHalf

	for e.current.Len() > 0 && (*e.current)[0].expiry <= now {
		r := e.removeRequest((*e.current)[0].handle)
		log.Debugf("engine: request for %q timed out uid=%s", r.hostname, r.uid)
		e.complete(r, OutcomeTimeout, netip.Addr{})
	}
}

// nextWait computes how long the loop may block. Capped at a quarter of the
// tick range so wraparound is always observed within a bounded number of
// iterations, even with nothing scheduled near the boundary.
func (e *engine) nextWait() time.Duration {
	now := e.svc.clk.Ticks()
	wait := quarterRange
	if e.current.Len() > 0 {
		if head := (*e.current)[0].expiry; head > now {
			wait = min(wait, head-now)
		} else {
			wait = 0
		}
	} else if e.next.Len() > 0 {
		// Only wrapped requests outstanding: wake at the wrap boundary.
		wait = min(wait, -now)
	}
	return time.Duration(wait) * time.Millisecond
}

// failAll completes every outstanding request with OutcomeError. Caller holds
// the registry lock.
func (e *engine) failAll() {
	for len(e.byHandle) != 0 {
		var l *Lookup
		for h := range e.byHandle {
			l = h
			break
		}
		r := e.removeRequest(l)
		e.complete(r, OutcomeError, netip.Addr{})
	}
}

// complete delivers the terminal callback for r. Caller holds the registry
// lock; it is released for the duration of the callback so user code may call
// back into the resolver. The handle is registered in the service's in-flight
// table before the lock drops and callbackMu brackets the call, so a Cancel
// for this specific handle can wait out the completion while Cancel for any
// other handle returns without touching callbackMu. The registry lock is
// reacquired before returning.
func (e *engine) complete(r *request, outcome Outcome, addr netip.Addr) {
	s := e.svc
	e.callbackMu.Lock()
	s.inFlight[r.handle] = e
	s.mu.Unlock()
	log.Debugf("engine: completing %q outcome=%s uid=%s", r.hostname, outcome, r.uid)
	r.handle.onCompleted(outcome, addr)
	e.callbackMu.Unlock()
	s.mu.Lock()
	if s.inFlight[r.handle] == e {
		delete(s.inFlight, r.handle)
	}
}

func isTransientSendErr(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOBUFS) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
