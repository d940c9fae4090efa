package logger

import "strings"

var secretKeyHints = []string{
	"token", "secret", "password", "api_key", "apikey", "authorization", "credential",
}

// redactSecretValue masks values whose keys look credential-bearing.
// Bearer-prefixed values are masked even under innocuous keys.
func redactSecretValue(key, val string) string {
	lk := strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(lk, hint) {
			return MaskSecret(val)
		}
	}
	if strings.HasPrefix(val, "Bearer ") {
		return "Bearer " + MaskSecret(val[len("Bearer "):])
	}
	return val
}

// MaskSecret masks a credential for safe logging, keeping a short prefix
// so tokens can still be distinguished in logs.
// "sk_live_abc123def" → "sk_l***"
// Values of 8 chars or fewer are fully masked.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}
