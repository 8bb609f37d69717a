package gateway

import "testing"

func TestParseLegacyEpoch_MagnitudeHeuristic(t *testing.T) {
	cases := []struct {
		name string
		in   int64
		want int64 // unix seconds
	}{
		{"seconds", 1_700_000_000, 1_700_000_000},
		{"milliseconds", 1_700_000_000_000, 1_700_000_000},
		{"boundary_is_milliseconds", 100_000_000_000, 100_000_000},
		{"just_below_boundary_is_seconds", 99_999_999_999, 99_999_999_999},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := parseLegacyEpoch(c.in).Unix()
			if got != c.want {
				t.Fatalf("parseLegacyEpoch(%d) = %d, want %d", c.in, got, c.want)
			}
		})
	}
}
