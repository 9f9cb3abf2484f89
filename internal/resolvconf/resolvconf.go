// Package resolvconf discovers the system DNS server address.
//
// On unix-like systems the address comes from the first usable "nameserver"
// line of /etc/resolv.conf. On platforms without a resolv.conf there is no
// discovery; callers must supply a server explicitly, and requests that reach
// the send path with no server known complete with an error.
package resolvconf

import (
	"bufio"
	"bytes"
	"net/netip"
	"runtime"
	"strings"

	"github.com/lc/adns/internal/filesys"
	"github.com/lc/adns/internal/log"
)

// Path is the conventional resolver configuration file location.
const Path = "/etc/resolv.conf"

// dnsPort is the standard DNS service port.
const dnsPort = 53

// Discover returns the system DNS server on port 53, reading Path through
// fsys. The second return value is false when no server could be determined;
// that is not an error condition, just an absent default.
func Discover(fsys filesys.FS) (netip.AddrPort, bool) {
	if !hasResolvConf() {
		log.Debugf("resolvconf: no resolv.conf on %s", runtime.GOOS)
		return netip.AddrPort{}, false
	}

	data, err := fsys.ReadFile(Path)
	if err != nil {
		log.Debugf("resolvconf: reading %s: %v", Path, err)
		return netip.AddrPort{}, false
	}

	addr, ok := Parse(data)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, dnsPort), true
}

// Parse extracts the first parseable nameserver address from resolv.conf
// content. Both IPv4 and IPv6 addresses are accepted.
func Parse(data []byte) (netip.Addr, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			log.Debugf("resolvconf: skipping nameserver %q: %v", fields[1], err)
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}

func hasResolvConf() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return true
	default:
		return false
	}
}
