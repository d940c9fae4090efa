package logger

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "***"},
		{"12345678", "***"},
		{"sk_live_abc123def", "sk_l***"},
	}
	for _, c := range cases {
		if got := MaskSecret(c.in); got != c.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactSecretValue(t *testing.T) {
	if got := redactSecretValue("client_secret", "supersecretvalue"); got != "supe***" {
		t.Errorf("client_secret not masked: %q", got)
	}
	if got := redactSecretValue("access_token", "tok_abcdefgh123"); got != "tok_***" {
		t.Errorf("access_token not masked: %q", got)
	}
	if got := redactSecretValue("provider", "LiveRamp"); got != "LiveRamp" {
		t.Errorf("non-secret value changed: %q", got)
	}
	if got := redactSecretValue("header", "Bearer tok_abcdefgh123"); got != "Bearer tok_***" {
		t.Errorf("bearer value not masked: %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != DEBUG {
		t.Error("debug should parse to DEBUG")
	}
	if ParseLevel("nonsense") != INFO {
		t.Error("unknown level should default to INFO")
	}
}
