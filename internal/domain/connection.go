package domain

import "time"

// AuthKind selects the credential strategy for a connection. The set is
// closed: every strategy carries only the fields it needs and is dispatched
// through TokenRefresher.Refresh and the bearer attach path, never through
// string checks at call sites.
type AuthKind string

const (
	AuthNone         AuthKind = "none"
	AuthStaticBearer AuthKind = "staticBearer"
	AuthOAuth2       AuthKind = "oauth2"
)

// Connection is the immutable, process-lifetime description of one remote
// tool server. Loaded once by infra/registry and shared by reference; no
// component mutates it after load.
type Connection struct {
	Name        string
	BaseAddress string
	Auth        AuthKind
	Scopes      []string

	OAuth2       *OAuth2Config
	StaticBearer *StaticBearerConfig
}

type OAuth2Config struct {
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	// ClientSecret is resolved from the configured secret reference at
	// load time and never written back to disk.
	ClientSecret string
}

type StaticBearerConfig struct {
	// SigningSecret is resolved from the configured secret reference at
	// load time.
	SigningSecret []byte
	Issuer        string
	Audience      string
	Algorithm     string
	Lifetime      time.Duration
}

// GatewayConfig carries the runtime tunables shared by every component.
type GatewayConfig struct {
	ExpiryLeewaySeconds    int                 `json:"expiryLeewaySeconds"`
	RefreshStaleSeconds    int                 `json:"refreshStaleSeconds"`
	RefreshTimeoutSeconds  int                 `json:"refreshTimeoutSeconds"`
	DiscoverTimeoutSeconds int                 `json:"discoverTimeoutSeconds"`
	DiscoverConcurrency    int                 `json:"discoverConcurrency"`
	InvokeTimeoutSeconds   int                 `json:"invokeTimeoutSeconds"`
	Observability          ObservabilityConfig `json:"observability"`
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
	EnableMetrics bool   `json:"enableMetrics"`
	EnableHealthz bool   `json:"enableHealthz"`
}

func (c GatewayConfig) ExpiryLeeway() time.Duration {
	return secondsOrDefault(c.ExpiryLeewaySeconds, DefaultExpiryLeewaySeconds)
}

func (c GatewayConfig) RefreshStaleAfter() time.Duration {
	return secondsOrDefault(c.RefreshStaleSeconds, DefaultRefreshStaleSeconds)
}

func (c GatewayConfig) RefreshTimeout() time.Duration {
	return secondsOrDefault(c.RefreshTimeoutSeconds, DefaultRefreshTimeoutSeconds)
}

func (c GatewayConfig) DiscoverTimeout() time.Duration {
	return secondsOrDefault(c.DiscoverTimeoutSeconds, DefaultDiscoverTimeoutSeconds)
}

func (c GatewayConfig) InvokeTimeout() time.Duration {
	return secondsOrDefault(c.InvokeTimeoutSeconds, DefaultInvokeTimeoutSeconds)
}

func secondsOrDefault(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

// Catalog is the parsed configuration: the connection list in file order
// plus the runtime tunables.
type Catalog struct {
	Connections []Connection
	Runtime     GatewayConfig
}
