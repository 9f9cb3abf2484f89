package adns

import (
	"container/heap"
	"math"
	"net/netip"
	"slices"

	"github.com/lc/adns/internal/wire"
)

// Tick-range bounds used for wraparound detection and wait clamping.
const (
	halfRange    uint32 = 1 << 31
	quarterRange uint32 = 1 << 30
)

// request is one outstanding resolution owned by the engine. It is reachable
// from the by-handle map, the by-id map, exactly one expiry bucket, and
// (until sent) the send queue, for its entire lifetime; removeRequest is the
// only operation that detaches it, and it detaches from everything at once.
type request struct {
	handle   *Lookup
	uid      string // log-correlation id
	hostname string
	qtype    wire.Type
	id       uint16
	server   netip.AddrPort // explicit or defaulted at send time

	expiry  uint32
	bucket  *reqHeap
	heapIdx int

	// queued is true while the request sits in the send queue. The queue is
	// drained lazily: a dequeued entry is just skipped.
	queued bool
}

// insertRequest registers r in every index and schedules it for sending.
// Caller holds the registry lock and has already placed r.id in no other
// outstanding request.
func (e *engine) insertRequest(r *request, bucket *reqHeap) {
	e.byHandle[r.handle] = r
	e.byID[r.id] = r
	e.ids = insertID(e.ids, r.id)
	r.bucket = bucket
	heap.Push(bucket, r)
	r.queued = true
	e.sendQ = append(e.sendQ, r)
}

// removeRequest detaches the lookup's outstanding request from all indexes
// and returns ownership of it, or nil if there is none. This is the single
// removal path shared by resolution, no-such-host, timeout and cancel, which
// is what keeps the cross-index invariant: a request is never in some indexes
// but not others.
func (e *engine) removeRequest(l *Lookup) *request {
	r, ok := e.byHandle[l]
	if !ok {
		return nil
	}
	delete(e.byHandle, l)
	delete(e.byID, r.id)
	e.ids = removeID(e.ids, r.id)
	heap.Remove(r.bucket, r.heapIdx)
	r.bucket = nil
	r.queued = false
	return r
}

// freeID picks an unused transaction id from the ascending in-use list.
// Reuse is biased toward the low end and fully deterministic: below the
// smallest, above the largest, then the first gap.
func freeID(ids []uint16) (uint16, bool) {
	if len(ids) == 0 {
		return 0, true
	}
	if ids[0] != 0 {
		return ids[0] - 1, true
	}
	if last := ids[len(ids)-1]; last != math.MaxUint16 {
		return last + 1, true
	}
	for i := 0; i+1 < len(ids); i++ {
		if ids[i+1]-ids[i] > 1 {
			return ids[i] + 1, true
		}
	}
	return 0, false
}

func insertID(ids []uint16, id uint16) []uint16 {
	i, _ := slices.BinarySearch(ids, id)
	return slices.Insert(ids, i, id)
}

func removeID(ids []uint16, id uint16) []uint16 {
	i, ok := slices.BinarySearch(ids, id)
	if !ok {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}

// reqHeap is a min-heap of requests ordered by absolute expiry tick. The
// engine keeps two of them, one per half of the tick cycle, so that expiry
// comparisons never have to reason about wrapped values.
//
// The heap is not thread-safe; all access is under the Service registry lock.
type reqHeap []*request

var _ heap.Interface = (*reqHeap)(nil)

func (h reqHeap) Len() int { return len(h) }

func (h reqHeap) Less(i, j int) bool { return h[i].expiry < h[j].expiry }

func (h reqHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}

// Push inserts x (container/heap calls this; use heap.Push).
func (h *reqHeap) Push(x any) {
	r, ok := x.(*request)
	if !ok {
		return
	}
	r.heapIdx = len(*h)
	*h = append(*h, r)
}

// Pop removes the last element (container/heap calls this; use heap.Pop).
func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	r.heapIdx = -1
	*h = old[:n-1]
	return r
}
