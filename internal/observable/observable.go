// Package observable turns raw strings and OCSF events into typed lookup
// observables.
package observable

import (
	"net"
	"regexp"
	"strings"

	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/Ashfaaq98/assetintel/internal/ocsf"
)

var (
	cveRe    = regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)
	domainRe = regexp.MustCompile(`^(?i)([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z][a-z0-9-]{0,62}[a-z0-9]$`)
)

// IgnoredAddresses never produce a lookup request.
var IgnoredAddresses = map[string]struct{}{
	"127.0.0.1":       {},
	"255.255.255.255": {},
	"0.0.0.0":         {},
}

// Parse infers the kind of a bare value. CVE ids are upper-cased and domains
// lower-cased; anything unrecognised is KindOther.
func Parse(value string) lookup.Observable {
	v := strings.TrimSpace(value)

	if ip := net.ParseIP(v); ip != nil {
		if ip4 := ip.To4(); ip4 != nil && !strings.Contains(v, ":") {
			s := ip4.String()
			_, ignored := IgnoredAddresses[s]
			return lookup.Observable{Value: s, Kind: lookup.KindIPv4, IsIgnoredAddress: ignored}
		}
		return lookup.Observable{Value: v, Kind: lookup.KindOther}
	}
	if cveRe.MatchString(v) {
		return lookup.Observable{Value: strings.ToUpper(v), Kind: lookup.KindCVE}
	}
	if len(v) <= 253 && domainRe.MatchString(strings.TrimSuffix(v, ".")) {
		return lookup.Observable{Value: strings.ToLower(strings.TrimSuffix(v, ".")), Kind: lookup.KindDomain}
	}
	return lookup.Observable{Value: v, Kind: lookup.KindOther}
}

// ParseAll parses values in order, dropping blanks.
func ParseAll(values []string) []lookup.Observable {
	out := make([]lookup.Observable, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, Parse(v))
	}
	return out
}

// FromEvent extracts the lookup candidates of an OCSF event. Only kinds the
// engine can query are kept; ignored addresses are kept so callers can
// report them as skipped.
func FromEvent(ev *ocsf.Event) []lookup.Observable {
	if ev == nil {
		return nil
	}
	var out []lookup.Observable
	for _, raw := range ev.ExtractObservables() {
		obs := Parse(raw.Value)
		if obs.Kind == lookup.KindOther {
			continue
		}
		out = append(out, obs)
	}
	return Dedupe(out)
}

// Dedupe keeps the first occurrence of each kind/value pair.
func Dedupe(in []lookup.Observable) []lookup.Observable {
	seen := make(map[string]bool, len(in))
	var out []lookup.Observable
	for _, o := range in {
		k := string(o.Kind) + ":" + o.Value
		if !seen[k] {
			seen[k] = true
			out = append(out, o)
		}
	}
	return out
}
