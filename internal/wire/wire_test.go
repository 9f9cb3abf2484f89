package wire

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Encoded queries must be readable by an independent DNS implementation.
func TestEncodeCrossCheck(t *testing.T) {
	testCases := []struct {
		name  string
		host  string
		qtype Type
	}{
		{name: "A query", host: "example.com", qtype: TypeA},
		{name: "AAAA query", host: "example.com", qtype: TypeAAAA},
		{name: "single label", host: "localhost", qtype: TypeA},
		{name: "deep subdomain", host: "a.b.c.d.example.com", qtype: TypeAAAA},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := Encode(0x1234, tc.host, tc.qtype)
			require.NoError(t, err)
			require.LessOrEqual(t, len(pkt), MaxPacketSize)

			var msg dns.Msg
			require.NoError(t, msg.Unpack(pkt))

			assert.Equal(t, uint16(0x1234), msg.Id)
			assert.False(t, msg.Response)
			require.Len(t, msg.Question, 1)
			assert.Equal(t, dns.Fqdn(tc.host), msg.Question[0].Name)
			assert.Equal(t, uint16(tc.qtype), msg.Question[0].Qtype)
			assert.Equal(t, uint16(dns.ClassINET), msg.Question[0].Qclass)
			assert.Empty(t, msg.Answer)
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	testCases := []struct {
		name string
		host string
		err  error
	}{
		{name: "name too long", host: strings.Repeat("a.", 127) + "toolong", err: ErrNameTooLong},
		{name: "oversized label", host: strings.Repeat("a", 64) + ".com", err: ErrBadLabel},
		{name: "empty label", host: "foo..com", err: ErrBadLabel},
		{name: "trailing dot", host: "example.com.", err: ErrBadLabel},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(1, tc.host, TypeA)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

// reply builds a response packet with miekg/dns for a query we encoded
// ourselves, so Decode is exercised against independently produced bytes.
func reply(t *testing.T, id uint16, host string, qtype Type, rcode int, answers ...dns.RR) []byte {
	t.Helper()

	query, err := Encode(id, host, qtype)
	require.NoError(t, err)
	var q dns.Msg
	require.NoError(t, q.Unpack(query))

	resp := new(dns.Msg)
	resp.SetReply(&q)
	resp.Rcode = rcode
	resp.Answer = answers
	// No compression: the codec resolves only the question name.
	pkt, err := resp.Pack()
	require.NoError(t, err)
	return pkt
}

func aRecord(t *testing.T, host, ip string, rrt Type) dns.RR {
	t.Helper()
	typ := "A"
	if rrt == TypeAAAA {
		typ = "AAAA"
	}
	rr, err := dns.NewRR(dns.Fqdn(host) + " 300 IN " + typ + " " + ip)
	require.NoError(t, err)
	return rr
}

func TestDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		host  string
		qtype Type
		ip    string
	}{
		{name: "A record", host: "example.com", qtype: TypeA, ip: "93.184.216.34"},
		{name: "AAAA record", host: "example.com", qtype: TypeAAAA, ip: "2606:2800:220:1:248:1893:25c8:1946"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := reply(t, 7, tc.host, tc.qtype, dns.RcodeSuccess,
				aRecord(t, tc.host, tc.ip, tc.qtype))

			res := Decode(pkt, tc.host, tc.qtype)
			require.Equal(t, StatusOK, res.Status)
			assert.Equal(t, netip.MustParseAddr(tc.ip), res.Addr)
		})
	}
}

func TestDecodeSkipsForeignRecords(t *testing.T) {
	// An A answer ahead of the AAAA answer must be skipped, not mistaken
	// for the requested record.
	pkt := reply(t, 7, "example.com", TypeAAAA, dns.RcodeSuccess,
		aRecord(t, "example.com", "93.184.216.34", TypeA),
		aRecord(t, "example.com", "2606:2800:220:1:248:1893:25c8:1946", TypeAAAA))

	res := Decode(pkt, "example.com", TypeAAAA)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, netip.MustParseAddr("2606:2800:220:1:248:1893:25c8:1946"), res.Addr)
}

func TestDecodeRcodeAndShape(t *testing.T) {
	assert.Equal(t, StatusNoSuchHost,
		Decode(reply(t, 7, "nope.example.com", TypeA, dns.RcodeNameError), "nope.example.com", TypeA).Status)
	assert.Equal(t, StatusNoSuchHost,
		Decode(reply(t, 7, "example.com", TypeAAAA, dns.RcodeSuccess), "example.com", TypeAAAA).Status)
	assert.Equal(t, StatusMalformed,
		Decode(reply(t, 7, "example.com", TypeA, dns.RcodeServerFailure), "example.com", TypeA).Status)

	// A query is not a response.
	q, err := Encode(7, "example.com", TypeA)
	require.NoError(t, err)
	assert.Equal(t, StatusMalformed, Decode(q, "example.com", TypeA).Status)

	// Question echoed for a different host.
	other := reply(t, 7, "other.example.com", TypeA, dns.RcodeSuccess,
		aRecord(t, "other.example.com", "1.2.3.4", TypeA))
	assert.Equal(t, StatusMalformed, Decode(other, "example.com", TypeA).Status)

	// Right host, but only records of the wrong type.
	wrongType := reply(t, 7, "example.com", TypeA, dns.RcodeSuccess,
		aRecord(t, "example.com", "2606:2800:220:1:248:1893:25c8:1946", TypeAAAA))
	assert.Equal(t, StatusMalformed, Decode(wrongType, "example.com", TypeA).Status)
}

// Truncating a valid response at every byte boundary must never read out of
// bounds; each prefix either still parses or comes back malformed.
func TestDecodeTruncationSweep(t *testing.T) {
	pkt := reply(t, 7, "example.com", TypeA, dns.RcodeSuccess,
		aRecord(t, "example.com", "93.184.216.34", TypeA))

	for i := 0; i <= len(pkt); i++ {
		res := Decode(pkt[:i], "example.com", TypeA)
		if i == len(pkt) {
			assert.Equal(t, StatusOK, res.Status)
			continue
		}
		// A prefix may still be decodable when the cut lands after the
		// matching record; it must never panic or misreport an address.
		if res.Status == StatusOK {
			assert.Equal(t, netip.MustParseAddr("93.184.216.34"), res.Addr)
		}
	}
}

func TestParseName(t *testing.T) {
	testCases := []struct {
		name     string
		pkt      []byte
		off      int
		want     string
		wantOff  int
		wantFail bool
	}{
		{
			name:    "two labels",
			pkt:     []byte{3, 'f', 'o', 'o', 2, 'i', 'o', 0},
			want:    "foo.io",
			wantOff: 8,
		},
		{
			name:    "root name",
			pkt:     []byte{0},
			want:    "",
			wantOff: 1,
		},
		{
			name:    "trailing bytes ignored",
			pkt:     []byte{1, 'a', 0, 0xff, 0xff},
			want:    "a",
			wantOff: 3,
		},
		{
			name:     "label runs past end",
			pkt:      []byte{5, 'a', 'b'},
			wantFail: true,
		},
		{
			name:     "missing terminator",
			pkt:      []byte{1, 'a'},
			wantFail: true,
		},
		{
			name:     "offset beyond packet",
			pkt:      []byte{0},
			off:      5,
			wantFail: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, off, ok := ParseName(tc.pkt, tc.off)
			if tc.wantFail {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantOff, off)
		})
	}
}
