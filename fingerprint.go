package authvault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"
)

const (
	signalUserAgent = "user_agent"
	signalClientIP  = "client_ip"
)

// fingerprinter derives a request fingerprint from the signals carried in
// the context: the user agent, optionally the client IP, and any signals
// attached via WithClientSignals. Each signal is digested separately so a
// partial match can be scored; the combined digest binds them all.
type fingerprinter struct {
	cfg FingerprintConfig
}

// compute returns the combined digest and the sorted per-signal digests. ok
// is false when fewer than MinSignals signals are present, in which case no
// fingerprint should be bound or checked.
func (f *fingerprinter) compute(ctx context.Context) (combined string, signals []string, ok bool) {
	values := map[string]string{}

	if ua := userAgentFromContext(ctx); ua != "" {
		values[signalUserAgent] = ua
	}
	if f.cfg.IncludeIP {
		if ip := clientIPFromContext(ctx); ip != "" {
			values[signalClientIP] = ip
		}
	}
	for name, value := range clientSignalsFromContext(ctx) {
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}

	if len(values) < f.cfg.MinSignals {
		return "", nil, false
	}

	signals = make([]string, 0, len(values))
	for name, value := range values {
		signals = append(signals, name+":"+digest(value))
	}
	sort.Strings(signals)

	return digest(strings.Join(signals, "|")), signals, true
}

// similarity scores two per-signal digest sets as the fraction of signals
// present and identical in both, over the size of the larger set.
func similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}

	var matching int
	for _, s := range b {
		if _, found := set[s]; found {
			matching++
		}
	}

	total := len(a)
	if len(b) > total {
		total = len(b)
	}

	return float64(matching) / float64(total)
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
