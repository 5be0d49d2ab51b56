package authvault

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type clientSignalsContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP rate limiting, audit metadata, revocation audit trails, and
// (when enabled) fingerprint signals.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit
// metadata and fingerprinting.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithClientSignals attaches additional named fingerprint signals, typically
// stable request header values such as Accept-Language and Accept-Encoding.
// The user agent and (when configured) client IP contribute automatically
// and do not need to be repeated here.
func WithClientSignals(ctx context.Context, signals map[string]string) context.Context {
	if len(signals) == 0 {
		return ctx
	}

	copied := make(map[string]string, len(signals))
	for k, v := range signals {
		copied[k] = v
	}
	return context.WithValue(ctx, clientSignalsContextKey{}, copied)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func clientSignalsFromContext(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}

	signals, _ := ctx.Value(clientSignalsContextKey{}).(map[string]string)
	return signals
}
