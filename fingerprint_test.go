package authvault

import (
	"context"
	"testing"
)

func fingerprintContext(ua, ip string, extra map[string]string) context.Context {
	ctx := context.Background()
	if ua != "" {
		ctx = WithUserAgent(ctx, ua)
	}
	if ip != "" {
		ctx = WithClientIP(ctx, ip)
	}
	if len(extra) > 0 {
		ctx = WithClientSignals(ctx, extra)
	}
	return ctx
}

func TestFingerprintDeterministic(t *testing.T) {
	fp := &fingerprinter{cfg: FingerprintConfig{Enabled: true, IncludeIP: true, MinSignals: 3}}

	ctx := fingerprintContext("Mozilla/5.0", "203.0.113.7", map[string]string{"accept_language": "en-US"})

	first, firstSignals, ok := fp.compute(ctx)
	if !ok {
		t.Fatal("expected a fingerprint")
	}
	second, secondSignals, ok := fp.compute(ctx)
	if !ok {
		t.Fatal("expected a fingerprint")
	}

	if first != second {
		t.Fatal("same signals must produce the same digest")
	}
	if len(firstSignals) != 3 || len(secondSignals) != 3 {
		t.Fatalf("signal counts = %d, %d; want 3", len(firstSignals), len(secondSignals))
	}

	// Any changed signal changes the combined digest.
	changed, _, ok := fp.compute(fingerprintContext("Mozilla/5.0", "198.51.100.1", map[string]string{"accept_language": "en-US"}))
	if !ok {
		t.Fatal("expected a fingerprint")
	}
	if changed == first {
		t.Fatal("different IP must change the digest")
	}
}

func TestFingerprintMinSignalsGate(t *testing.T) {
	fp := &fingerprinter{cfg: FingerprintConfig{Enabled: true, IncludeIP: true, MinSignals: 3}}

	if _, _, ok := fp.compute(fingerprintContext("Mozilla/5.0", "203.0.113.7", nil)); ok {
		t.Fatal("two signals must not clear a MinSignals of 3")
	}
	if _, _, ok := fp.compute(context.Background()); ok {
		t.Fatal("no signals must not produce a fingerprint")
	}
}

func TestFingerprintIgnoresIPWhenNotIncluded(t *testing.T) {
	fp := &fingerprinter{cfg: FingerprintConfig{Enabled: true, IncludeIP: false, MinSignals: 3}}

	extra := map[string]string{"accept_language": "en-US", "accept_encoding": "gzip"}
	a, _, ok := fp.compute(fingerprintContext("Mozilla/5.0", "203.0.113.7", extra))
	if !ok {
		t.Fatal("expected a fingerprint")
	}
	b, _, ok := fp.compute(fingerprintContext("Mozilla/5.0", "198.51.100.1", extra))
	if !ok {
		t.Fatal("expected a fingerprint")
	}
	if a != b {
		t.Fatal("the IP must not contribute when IncludeIP is off")
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y", "z"}, []string{"x", "y", "z"}, 1},
		{"disjoint", []string{"x", "y"}, []string{"p", "q"}, 0},
		{"partial", []string{"x", "y", "z"}, []string{"x", "y", "w"}, 2.0 / 3.0},
		{"subset", []string{"x", "y"}, []string{"x", "y", "z", "w"}, 0.5},
		{"empty", nil, []string{"x"}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := similarity(tc.a, tc.b); got != tc.want {
				t.Fatalf("similarity = %v, want %v", got, tc.want)
			}
		})
	}
}
