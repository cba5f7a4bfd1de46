package lookup

import (
	"bytes"
	"encoding/json"
)

// assemble converts a classified outcome into the caller-facing result.
func assemble(obs Observable, out Outcome) Result {
	switch out.Type {
	case OutcomeHit:
		if isMiss(out.Body) {
			return Result{Observable: obs}
		}
		return Result{
			Observable: obs,
			Data: &Data{
				Summary: []string{},
				Details: json.RawMessage(out.Body),
			},
		}
	case OutcomeError:
		return Result{Observable: obs, Err: out.Err}
	}
	return Result{Observable: obs}
}

// isMiss reports whether a 200 payload carries no records. The API wraps
// records in a top-level "data" member; null, empty arrays, objects and
// strings count as no records. Scalar numbers and booleans count as a hit,
// unlike a lodash-style isEmpty check, which would treat them as empty.
func isMiss(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return true
	}
	return isEmptyJSON(env.Data)
}

func isEmptyJSON(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}
