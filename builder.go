package authvault

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/authvault/authvault/internal/audit"
	"github.com/authvault/authvault/internal/rate"
	"github.com/authvault/authvault/internal/stores"
	"github.com/authvault/authvault/password"
	"github.com/authvault/authvault/session"
)

// Builder wires an [Engine]. A Builder is single-use: Build consumes it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userStore UserStore
	mailer    Mailer
	limiter   RateLimiter
	auditSink AuditSink

	built bool
}

// New returns a Builder initialized with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the full configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, verification tokens, and
// the default rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the host-provided account persistence.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithMailer sets the out-of-band token delivery channel.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithRateLimiter overrides the built-in Redis fixed-window limiter.
func (b *Builder) WithRateLimiter(limiter RateLimiter) *Builder {
	b.limiter = limiter
	return b
}

// WithAuditSink sets the destination for audit events. Events are only
// dispatched when Audit.Enabled is set in the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userStore == nil {
		return nil, errors.New("user store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		Pepper:      cloneBytes(cfg.Password.Pepper),
	})
	if err != nil {
		return nil, err
	}

	limiter := b.limiter
	if limiter == nil {
		limiter = &redisRateLimiter{limiter: rate.New(b.redis, cfg.RateLimit.RedisPrefix)}
	}

	engine := &Engine{
		config:        cfg,
		users:         b.userStore,
		mailer:        b.mailer,
		limiter:       limiter,
		sessions:      session.NewStore(b.redis, cfg.Session.RedisPrefix),
		verifications: stores.NewVerificationStore(b.redis, cfg.Verification.RedisPrefix),
		hasher:        hasher,
		policy: password.Policy{
			MinLength:     cfg.Password.MinLength,
			MaxLength:     cfg.Password.MaxLength,
			RequireUpper:  cfg.Password.RequireUpper,
			RequireLower:  cfg.Password.RequireLower,
			RequireDigit:  cfg.Password.RequireDigit,
			RequireSymbol: cfg.Password.RequireSymbol,
		},
		fp: &fingerprinter{cfg: cfg.Fingerprint},
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}

// redisRateLimiter adapts the internal fixed-window limiter to the public
// RateLimiter interface.
type redisRateLimiter struct {
	limiter *rate.Limiter
}

func (r *redisRateLimiter) Limit(ctx context.Context, key string, max int, window time.Duration) (RateLimitResult, error) {
	result, err := r.limiter.Limit(ctx, key, max, window)
	if err != nil {
		return RateLimitResult{}, err
	}

	return RateLimitResult{
		Allowed:   result.Allowed,
		Remaining: result.Remaining,
		Limit:     result.Limit,
		ResetAt:   result.ResetAt,
	}, nil
}
