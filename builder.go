package resetd

import (
	"errors"

	"github.com/carebridge/resetd/internal/limiters"
	"github.com/carebridge/resetd/internal/stores"
	"github.com/carebridge/resetd/password"
	"github.com/carebridge/resetd/sessions"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Redis and a UserDirectory are required;
// everything else has a working default. A Builder is single-use.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	directory   UserDirectory
	invalidator SessionInvalidator
	notifier    Notifier
	auditSink   AuditSink
	argon       password.Config
	argonSet    bool

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Call before the other
// With* methods that tweak individual fields.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions and rate limits.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the user directory. Required.
func (b *Builder) WithDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithSessionInvalidator overrides the auth-session invalidator. When not
// set, a sessions.Store on the same Redis client is used.
func (b *Builder) WithSessionInvalidator(inv SessionInvalidator) *Builder {
	b.invalidator = inv
	return b
}

// WithNotifier sets the OTP/reset-link dispatcher. When not set, delivery
// is a no-op (useful in tests).
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the sink receiving audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithArgon2Params overrides the password hashing cost parameters.
func (b *Builder) WithArgon2Params(cfg password.Config) *Builder {
	b.argon = cfg
	b.argonSet = true
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}

	argonCfg := password.DefaultConfig()
	if b.argonSet {
		argonCfg = b.argon
	}
	hasher, err := password.NewArgon2(argonCfg)
	if err != nil {
		return nil, err
	}

	invalidator := b.invalidator
	if invalidator == nil {
		invalidator = sessions.NewStore(b.redis, "")
	}

	engine := &Engine{
		config:       cfg,
		sessionStore: stores.NewResetSessionStore(b.redis, cfg.Reset.KeyPrefix),
		requestLimiter: limiters.NewRequestLimiter(b.redis, cfg.RateLimit.KeyPrefix, limiters.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		}),
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		passwordHash: hasher,
		directory:    b.directory,
		invalidator:  invalidator,
		notifier:     b.notifier,
	}

	b.built = true
	return engine, nil
}
