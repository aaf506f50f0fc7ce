package urlutil

import (
	"fmt"
	"net"
)

// privateRanges holds the private and reserved IP ranges a scan must never
// target. The service drives a real browser, so pointing it at internal
// infrastructure would make it an SSRF proxy.
var privateRanges []*net.IPNet

func init() {
	cidrs := []string{
		// IPv4
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"169.254.0.0/16", // link-local
		"100.64.0.0/10",  // CGNAT (RFC 6598)
		"0.0.0.0/8",      // "this" network
		"224.0.0.0/4",    // multicast

		// IPv6
		"::1/128",   // loopback
		"fe80::/10", // link-local
		"fc00::/7",  // unique local
		"ff00::/8",  // multicast
	}

	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in private ranges: %s", cidr))
		}
		privateRanges = append(privateRanges, ipNet)
	}
}

// IsPrivateIP returns true if the given IP belongs to a private or reserved range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	for _, ipNet := range privateRanges {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateTargetHost rejects scan targets that are IP literals inside a
// private or reserved range. No DNS resolution happens here: domain names
// pass through, only literal addresses are checked. allowPrivate turns the
// guard off for lab setups that scan internal hosts on purpose.
func ValidateTargetHost(hostname string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}

	if IsPrivateIP(ip) {
		return fmt.Errorf("target is a private/reserved IP address: %s", hostname)
	}
	return nil
}
