package stepdedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fields that vary between retried attempts of the same logical operation
// and must not change its identity.
var volatileFields = map[string]bool{
	"timestamp": true,
	"ts":        true,
	"nonce":     true,
	"requestid": true,
	"sentat":    true,
	"now":       true,
	"jitter":    true,
}

// HashInput computes the dedup identity of a step input: sha256 over the
// canonical JSON form with volatile fields stripped. Two retried attempts
// differing only in timestamps or nonces hash identically.
func HashInput(input json.RawMessage) string {
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		// Non-JSON input hashes verbatim.
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:])
	}
	doc = stripVolatile(doc)

	// json.Marshal sorts object keys, which canonicalizes the form.
	canonical, err := json.Marshal(doc)
	if err != nil {
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func stripVolatile(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if volatileFields[lowerASCII(k)] {
				delete(val, k)
				continue
			}
			val[k] = stripVolatile(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = stripVolatile(inner)
		}
		return val
	default:
		return v
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
