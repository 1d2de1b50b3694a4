package configsync

import "testing"

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.4", "1.4.0", 0},
		{"2.0.0", "1.9.9", 1},
		{"1.2.3", "1.10.0", -1},
		{"1.0.1", "1.0.0", 1},
		{"0.0.0", "0.0.1", -1},
		{"v1.2.0", "1.2", 0},
		// Pre-releases sort below their release when both sides are semver.
		{"1.0.0-beta.1", "1.0.0", -1},
		{"1.2.3.4", "1.2.3", 1},
		{"1.2.3.0", "1.2.3", 0},
		{"10", "9.9.9.9", 1},
		{"", "0.0.0", 0},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
		if got := CompareVersions(tc.b, tc.a); got != -tc.want {
			t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tc.b, tc.a, got, -tc.want)
		}
	}
}

func TestJitteredInterval(t *testing.T) {
	base := 180 * 60 * 1000
	if got := jitteredIntervalWithSample(DefaultInterval, 0, 0.9); got != DefaultInterval {
		t.Fatalf("expected no jitter, got %s", got)
	}
	low := jitteredIntervalWithSample(DefaultInterval, 0.5, 0)
	high := jitteredIntervalWithSample(DefaultInterval, 0.5, 1)
	if low.Milliseconds() != int64(base/2) || high.Milliseconds() != int64(base*3/2) {
		t.Fatalf("unexpected jitter bounds: %s %s", low, high)
	}
	if clampJitterRatio(-1) != 0 || clampJitterRatio(3) != 1 {
		t.Fatalf("jitter ratio not clamped")
	}
}
