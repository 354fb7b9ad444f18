package domain

// Defaults for every runtime tunable. Config values of zero fall back to
// these; see infra/registry.Loader.
const (
	// DefaultExpiryLeewaySeconds is how long before nominal expiry a
	// credential is already treated as stale and refreshed.
	DefaultExpiryLeewaySeconds = 60

	// DefaultRefreshStaleSeconds bounds how long a record may sit in the
	// refreshing state before another caller may reclaim the slot.
	DefaultRefreshStaleSeconds = 30

	DefaultRefreshTimeoutSeconds  = 30
	DefaultDiscoverTimeoutSeconds = 15
	DefaultInvokeTimeoutSeconds   = 60
	DefaultDiscoverConcurrency    = 4

	// DefaultAccessTokenLifetimeSeconds applies when a token endpoint
	// omits expires_in from its response.
	DefaultAccessTokenLifetimeSeconds = 3600

	DefaultStaticBearerLifetimeSeconds = 300
	DefaultStaticBearerAlgorithm       = "HS256"

	DefaultStoreRetryMaxElapsedSeconds = 5

	DefaultObservabilityListenAddress = "127.0.0.1:9464"
)

// QualifiedNameSeparator joins a connection name and a local tool name into
// a globally unique catalog entry.
const QualifiedNameSeparator = "."
