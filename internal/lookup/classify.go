package lookup

import (
	"fmt"
	"net/http"
)

const (
	pathAssets = "/query/assets"
	pathCVEs   = "/query/cves"
)

// Search field lists understood by the remote DSL.
const (
	fieldsIP     = `["compute.public_ips","compute.private_ips"]`
	fieldsDomain = `["compute.public_dnss","compute.private_dnss"]`
	fieldsCVE    = `["cve_id"]`
)

// Classify maps an observable to its query, or reports false when the
// observable must be skipped.
func Classify(obs Observable) (QuerySpec, bool) {
	switch obs.Kind {
	case KindIPv4:
		if obs.IsIgnoredAddress {
			return QuerySpec{}, false
		}
		return QuerySpec{Observable: obs, Path: pathAssets, Filter: searchFilter(fieldsIP, obs.Value)}, true
	case KindDomain:
		return QuerySpec{Observable: obs, Path: pathAssets, Filter: searchFilter(fieldsDomain, obs.Value)}, true
	case KindCVE:
		return QuerySpec{Observable: obs, Path: pathCVEs, Filter: searchFilter(fieldsCVE, obs.Value)}, true
	}
	return QuerySpec{}, false
}

// searchFilter embeds the phrase verbatim; the DSL contract expects the raw value.
func searchFilter(fields, phrase string) string {
	return fmt.Sprintf(`{"search":[{"fields":%s,"phrase":"%s"}]}`, fields, phrase)
}

// ClassifyResponse maps a lookup response to an Outcome. First match wins.
func ClassifyResponse(status int, body []byte) Outcome {
	switch {
	case status == http.StatusOK:
		return Outcome{Type: OutcomeHit, Body: body}
	case status == http.StatusNotFound:
		return Outcome{Type: OutcomeMiss}
	case status == http.StatusAccepted:
		// Results still being computed remotely; reported like a miss.
		return Outcome{Type: OutcomeMiss}
	case status == http.StatusForbidden:
		return errorOutcome(KindNonExistentDevice, status,
			"A warning will result if an investigation is performed with a non-existent device.")
	case status == http.StatusTooManyRequests:
		return errorOutcome(KindAPILimitExceeded, status,
			"You may have exceeded the rate limits for your organization or package")
	case status == http.StatusUnauthorized:
		return errorOutcome(KindJWTTokenExpired, status, "JWT Token expired")
	case status >= 500 && status <= 599:
		return errorOutcome(KindServerError, status, "Unexpected Server Error")
	}
	return errorOutcome(KindUnclassified, status, fmt.Sprintf("Unexpected status code %d", status))
}

func errorOutcome(kind BatchErrorKind, status int, detail string) Outcome {
	return Outcome{
		Type: OutcomeError,
		Err:  &BatchError{Kind: kind, Detail: detail, StatusCode: status},
	}
}
