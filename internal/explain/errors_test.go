package explain

import "testing"

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"Request timeout after 30s", "timeout"},
		{"operation timed out", "timeout"},
		{"context deadline exceeded", "timeout"},
		{"context canceled", "cancelled"},
		{"operation was cancelled by the caller", "cancelled"},
		{"Connection refused", "network"},
		{"dial tcp: no such host", "network"},
		{"write: broken pipe", "network"},
		{"permission denied", "permission"},
		{"401 Unauthorized", "permission"},
		{"file not found", "not_found"},
		{"GET /x returned 404", "not_found"},
		{"rate limit exceeded", "rate_limit"},
		{"429 Too Many Requests", "rate_limit"},
		{"out of memory", "memory"},
		{"invalid argument", "validation"},
		{"malformed payload", "validation"},
		{"something inexplicable happened", "other"},
		{"", "other"},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.msg); got != tc.want {
			t.Errorf("ClassifyError(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyErrorOrdering(t *testing.T) {
	// Messages matching several classes resolve by table order.
	if got := ClassifyError("request to network peer timed out"); got != "timeout" {
		t.Errorf("got %q, want timeout to win over network", got)
	}
	if got := ClassifyError("invalid memory address"); got != "memory" {
		t.Errorf("got %q, want memory to win over validation", got)
	}
}
