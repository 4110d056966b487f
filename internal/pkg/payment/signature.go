package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SignatureParam is the parameter name carrying the signature itself; it is
// always excluded from the canonical string.
const SignatureParam = "sign"

// CanonicalString normalizes a parameter map into the provider's canonical
// form: empty and nil values are dropped, keys are sorted ASCII-ascending,
// nested values are rendered as sorted-key JSON, every value is URL-encoded
// and pairs are joined as "key=value&...". The result must be bit-exact with
// the provider's own canonicalization or every signature is rejected.
func CanonicalString(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureParam {
			continue
		}
		v := canonicalValue(params[k])
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+url.QueryEscape(canonicalValue(params[k])))
	}
	return strings.Join(pairs, "&")
}

// canonicalValue renders a single parameter value. Scalars use their plain
// string form; maps and slices use compact JSON, which Go marshals with
// lexicographically sorted object keys.
func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; keep integers free of exponent noise.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Sign computes the hex HMAC-SHA256 of the canonical string under the
// merchant secret.
func Sign(params map[string]interface{}, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a provider-supplied signature against the canonical
// form of params in constant time.
func VerifySignature(params map[string]interface{}, secret, signature string) bool {
	sig := strings.ToLower(strings.TrimSpace(signature))
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(params)))
	return hmac.Equal(mac.Sum(nil), expected)
}
