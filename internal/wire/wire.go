// Package wire implements the raw DNS packet codec used by the lookup
// engine: encoding a single-question query and decoding the matching
// response, as described by RFC 1035 §4.1.
//
// The codec is deliberately minimal. It produces standard queries with one
// question of class IN, and it consumes responses by scanning the answer
// section for the first resource record of the requested type. Compressed
// names inside answers are skipped, not chased; there is no EDNS, no TCP
// fallback and no DNSSEC. Every fallible operation reports its result as a
// value, never by panicking, and malformed input can never cause a read past
// the packet boundary.
package wire

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"strings"
)

// Type identifies a DNS query/record type.
type Type uint16

// Record types the codec understands.
const (
	TypeA    Type = 1
	TypeAAAA Type = 28
)

func (t Type) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeAAAA:
		return "AAAA"
	default:
		return "TYPE?"
	}
}

const (
	// MaxPacketSize is the RFC 1035 cap on a DNS message carried over UDP.
	MaxPacketSize = 512
	// HeaderSize is the fixed DNS message header length.
	HeaderSize = 12
	// MaxHostname is the longest encodable host name in bytes.
	MaxHostname = 253
	// MaxLabel is the longest single label between dots.
	MaxLabel = 63

	classIN = 1
	// flagsQuery is a standard query with recursion desired.
	flagsQuery = 0x0100
	// maskQR is the query/response bit of the flags field.
	maskQR = 0x8000
	// maskRCode extracts the response code from the flags field.
	maskRCode = 0x000f
	// rcodeNameError is the "no such domain" response code.
	rcodeNameError = 3
)

// Encode errors.
var (
	ErrNameTooLong = errors.New("wire: host name longer than 253 bytes")
	ErrBadLabel    = errors.New("wire: host name label empty or longer than 63 bytes")
)

// Status classifies the result of decoding a response packet.
type Status int

const (
	// StatusOK means an address of the requested type was found.
	StatusOK Status = iota
	// StatusNoSuchHost means the server reported name-error or returned an
	// empty answer section.
	StatusNoSuchHost
	// StatusMalformed means the packet was structurally invalid, was not a
	// response, echoed a mismatched question, or contained no usable record.
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoSuchHost:
		return "no such host"
	case StatusMalformed:
		return "malformed"
	default:
		return "status?"
	}
}

// Result is the outcome of decoding a response packet.
type Result struct {
	Status Status
	Addr   netip.Addr // valid only when Status == StatusOK
}

// Encode serializes a standard query for host with the given transaction id
// and question type. The result always fits in MaxPacketSize bytes because
// host is capped at MaxHostname.
func Encode(id uint16, host string, qtype Type) ([]byte, error) {
	if len(host) > MaxHostname {
		return nil, ErrNameTooLong
	}

	// header + labels (one length byte per label plus the terminator is at
	// most len(host)+2 bytes) + qtype + qclass
	buf := make([]byte, 0, HeaderSize+len(host)+2+4)

	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = binary.BigEndian.AppendUint16(buf, flagsQuery)
	buf = binary.BigEndian.AppendUint16(buf, 1) // question count
	buf = binary.BigEndian.AppendUint16(buf, 0) // answer count
	buf = binary.BigEndian.AppendUint16(buf, 0) // authority count
	buf = binary.BigEndian.AppendUint16(buf, 0) // additional count

	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > MaxLabel {
			return nil, ErrBadLabel
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0) // terminating zero-length label

	buf = binary.BigEndian.AppendUint16(buf, uint16(qtype))
	buf = binary.BigEndian.AppendUint16(buf, classIN)

	return buf, nil
}

// ParseName reads a length-prefixed label sequence starting at off and joins
// the labels with dots. It returns the parsed name, the offset of the first
// byte after the terminating zero label, and whether parsing succeeded.
// A declared label length that would run past the end of pkt fails the parse.
func ParseName(pkt []byte, off int) (string, int, bool) {
	var b strings.Builder
	for {
		if off >= len(pkt) {
			return "", 0, false
		}
		n := int(pkt[off])
		off++
		if n == 0 {
			return b.String(), off, true
		}
		if len(pkt)-off < n {
			return "", 0, false
		}
		if b.Len() != 0 {
			b.WriteByte('.')
		}
		b.Write(pkt[off : off+n])
		off += n
	}
}

// Decode parses a response packet for a query on host with question type
// qtype. The transaction id is not checked here; the engine matches it
// against the registry before calling Decode.
//
// The question name echoed in the response must equal host. This defends
// against cross-talk between concurrently outstanding queries sharing the
// socket when a server misbehaves.
func Decode(pkt []byte, host string, qtype Type) Result {
	if len(pkt) < HeaderSize {
		return Result{Status: StatusMalformed}
	}

	flags := binary.BigEndian.Uint16(pkt[2:])
	if flags&maskQR == 0 {
		// A query, not a response.
		return Result{Status: StatusMalformed}
	}
	if rcode := flags & maskRCode; rcode != 0 {
		if rcode == rcodeNameError {
			return Result{Status: StatusNoSuchHost}
		}
		return Result{Status: StatusMalformed}
	}

	if qd := binary.BigEndian.Uint16(pkt[4:]); qd != 1 {
		return Result{Status: StatusMalformed}
	}
	answers := int(binary.BigEndian.Uint16(pkt[6:]))
	if answers == 0 {
		return Result{Status: StatusNoSuchHost}
	}

	// Question section: name, then echoed type and class.
	name, off, ok := ParseName(pkt, HeaderSize)
	if !ok || name != host {
		return Result{Status: StatusMalformed}
	}
	if len(pkt)-off < 4 {
		return Result{Status: StatusMalformed}
	}
	if Type(binary.BigEndian.Uint16(pkt[off:])) != qtype {
		return Result{Status: StatusMalformed}
	}
	if binary.BigEndian.Uint16(pkt[off+2:]) != classIN {
		return Result{Status: StatusMalformed}
	}
	off += 4

	for n := 0; n != answers; n++ {
		var ok bool
		if off, ok = skipOwnerName(pkt, off); !ok {
			return Result{Status: StatusMalformed}
		}

		if len(pkt)-off < 10 { // type, class, ttl, rdlength
			return Result{Status: StatusMalformed}
		}
		rrType := Type(binary.BigEndian.Uint16(pkt[off:]))
		rdLen := int(binary.BigEndian.Uint16(pkt[off+8:]))
		off += 10

		if len(pkt)-off < rdLen {
			return Result{Status: StatusMalformed}
		}
		if rrType == qtype {
			return decodeAddr(pkt[off:off+rdLen], rrType)
		}
		off += rdLen
	}

	// Scanned every answer without finding a record of the requested type.
	return Result{Status: StatusMalformed}
}

// skipOwnerName advances past the resource record owner name at off.
// A compression pointer (two high bits set) is two bytes and is not chased;
// an inline name is skipped byte-wise up to its zero terminator.
func skipOwnerName(pkt []byte, off int) (int, bool) {
	if off >= len(pkt) {
		return 0, false
	}
	if pkt[off]>>6 != 0 {
		off += 2
		if off > len(pkt) {
			return 0, false
		}
		return off, true
	}
	for off < len(pkt) && pkt[off] != 0 {
		off++
	}
	if off == len(pkt) {
		return 0, false
	}
	return off + 1, true
}

func decodeAddr(rdata []byte, rrType Type) Result {
	switch rrType {
	case TypeA:
		if len(rdata) < 4 {
			return Result{Status: StatusMalformed}
		}
		return Result{Status: StatusOK, Addr: netip.AddrFrom4([4]byte(rdata[:4]))}
	case TypeAAAA:
		if len(rdata) < 16 {
			return Result{Status: StatusMalformed}
		}
		return Result{Status: StatusOK, Addr: netip.AddrFrom16([16]byte(rdata[:16]))}
	default:
		return Result{Status: StatusMalformed}
	}
}
