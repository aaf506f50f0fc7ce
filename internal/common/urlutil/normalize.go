package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// ErrBadDomain marks input that cannot be turned into a scannable hostname.
var ErrBadDomain = errors.New("bad domain")

// maxDomainOctets is the DNS limit for a full domain name.
const maxDomainOctets = 253

var schemeRe = regexp.MustCompile(`^https?://`)

// strictProfile is the lookup mapping plus DNS length checks; idna.Lookup
// alone lets empty and oversized labels through. softProfile additionally
// relaxes the STD3 character rules, since hosts with underscore labels
// resolve in the wild. Relaxing STD3 also lets spaces and slashes through,
// so fallback results must still match softHostRe.
var (
	strictProfile = idna.New(idna.MapForLookup(), idna.VerifyDNSLength(true), idna.BidiRule())
	softProfile   = idna.New(idna.MapForLookup(), idna.StrictDomainName(false), idna.VerifyDNSLength(true))
	softHostRe    = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_-]*[a-z0-9_])?(\.[a-z0-9_]([a-z0-9_-]*[a-z0-9_])?)*$`)
)

// NormalizeDomain turns arbitrary user input into a canonical ASCII hostname.
// Accepts bare hosts ("Example.COM"), full URLs ("https://example.com/path")
// and unicode domains ("bücher.de" -> "xn--bcher-kva.de"). The output is
// deterministic: feeding a result back in returns the same value.
func NormalizeDomain(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))

	var host string
	if schemeRe.MatchString(s) {
		parsed, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: unparseable URL %q", ErrBadDomain, raw)
		}
		host = parsed.Hostname()
	} else {
		// Not a URL; try parsing with a scheme prepended, falling back to
		// treating the whole input as a host.
		parsed, err := url.Parse("https://" + s)
		if err == nil && parsed.Hostname() != "" {
			host = parsed.Hostname()
		} else {
			host = s
		}
	}

	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("%w: empty host in %q", ErrBadDomain, raw)
	}

	encoded, err := strictProfile.ToASCII(host)
	if err != nil {
		soft, softErr := softProfile.ToASCII(host)
		if softErr != nil || !softHostRe.MatchString(soft) {
			return "", fmt.Errorf("%w: %q is not IDNA-encodable: %v", ErrBadDomain, host, err)
		}
		encoded = soft
	}

	if len(encoded) > maxDomainOctets {
		return "", fmt.Errorf("%w: %d octets exceeds the %d octet limit", ErrBadDomain, len(encoded), maxDomainOctets)
	}

	return encoded, nil
}
