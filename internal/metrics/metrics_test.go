package metrics

import "testing"

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/api/v1/passes", "/api/v1/passes"},
		{"/api/v1/status", "/api/v1/status"},

		// Unknown/bot paths collapse to "other".
		{"/", "other"},
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v2/something", "other"},
		{"/api/v1/passes/", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that scanner traffic over many unique
// paths produces exactly 1 distinct path label, not one per path.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute("/scan/" + string(rune('a'+i%26)))
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for unknown paths, got %d: %v", len(seen), seen)
	}
}
