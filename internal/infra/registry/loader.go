package registry

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Loader parses the connection catalog from YAML. Any validation problem is
// CodeInvalidConfig and fatal: the gateway never starts with a partial or
// ambiguous connection list.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("registry")}
}

func newCatalogViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setRuntimeDefaults(v)
	return v
}

func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("expiryLeewaySeconds", domain.DefaultExpiryLeewaySeconds)
	v.SetDefault("refreshStaleSeconds", domain.DefaultRefreshStaleSeconds)
	v.SetDefault("refreshTimeoutSeconds", domain.DefaultRefreshTimeoutSeconds)
	v.SetDefault("discoverTimeoutSeconds", domain.DefaultDiscoverTimeoutSeconds)
	v.SetDefault("discoverConcurrency", domain.DefaultDiscoverConcurrency)
	v.SetDefault("invokeTimeoutSeconds", domain.DefaultInvokeTimeoutSeconds)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("observability.enableMetrics", true)
	v.SetDefault("observability.enableHealthz", true)
}

type rawCatalog struct {
	Connections      []rawConnection `mapstructure:"connections"`
	rawRuntimeConfig `mapstructure:",squash"`
}

type rawConnection struct {
	Name         string          `mapstructure:"name"`
	BaseAddress  string          `mapstructure:"baseAddress"`
	Auth         string          `mapstructure:"auth"`
	Scopes       []string        `mapstructure:"scopes"`
	OAuth2       rawOAuth2       `mapstructure:"oauth2"`
	StaticBearer rawStaticBearer `mapstructure:"staticBearer"`
}

type rawOAuth2 struct {
	AuthorizeURL    string `mapstructure:"authorizeURL"`
	TokenURL        string `mapstructure:"tokenURL"`
	ClientID        string `mapstructure:"clientID"`
	ClientSecretRef string `mapstructure:"clientSecretRef"`
}

type rawStaticBearer struct {
	SecretRef       string `mapstructure:"secretRef"`
	Issuer          string `mapstructure:"issuer"`
	Audience        string `mapstructure:"audience"`
	Algorithm       string `mapstructure:"algorithm"`
	LifetimeSeconds int    `mapstructure:"lifetimeSeconds"`
}

type rawRuntimeConfig struct {
	ExpiryLeewaySeconds    int                    `mapstructure:"expiryLeewaySeconds"`
	RefreshStaleSeconds    int                    `mapstructure:"refreshStaleSeconds"`
	RefreshTimeoutSeconds  int                    `mapstructure:"refreshTimeoutSeconds"`
	DiscoverTimeoutSeconds int                    `mapstructure:"discoverTimeoutSeconds"`
	DiscoverConcurrency    int                    `mapstructure:"discoverConcurrency"`
	InvokeTimeoutSeconds   int                    `mapstructure:"invokeTimeoutSeconds"`
	Observability          rawObservabilityConfig `mapstructure:"observability"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	EnableMetrics bool   `mapstructure:"enableMetrics"`
	EnableHealthz bool   `mapstructure:"enableHealthz"`
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func (l *Loader) Load(path string) (domain.Catalog, error) {
	if path == "" {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, "registry.load", "config path is required", nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, "registry.load", fmt.Sprintf("read config: %v", err), err)
	}
	return l.Parse(data)
}

// Parse decodes and validates a catalog document. Exposed separately so the
// validate subcommand and tests can work from bytes.
func (l *Loader) Parse(data []byte) (domain.Catalog, error) {
	v := newCatalogViper()
	if err := v.ReadConfig(bytes.NewBuffer(data)); err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, "registry.load", fmt.Sprintf("parse config: %v", err), err)
	}

	var cfg rawCatalog
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, "registry.load", fmt.Sprintf("decode config: %v", err), err)
	}

	var validationErrors []string
	nameSeen := make(map[string]struct{})
	connections := make([]domain.Connection, 0, len(cfg.Connections))

	for i, raw := range cfg.Connections {
		if _, exists := nameSeen[raw.Name]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("connections[%d]: duplicate name %q", i, raw.Name))
			continue
		}
		if raw.Name != "" {
			nameSeen[raw.Name] = struct{}{}
		}

		conn, errs := normalizeConnection(raw, i)
		if len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		connections = append(connections, conn)
	}

	if len(cfg.Connections) == 0 {
		validationErrors = append(validationErrors, "at least one connection is required")
	}
	if len(validationErrors) > 0 {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, "registry.load", strings.Join(validationErrors, "; "), nil)
	}

	runtime := domain.GatewayConfig{
		ExpiryLeewaySeconds:    cfg.ExpiryLeewaySeconds,
		RefreshStaleSeconds:    cfg.RefreshStaleSeconds,
		RefreshTimeoutSeconds:  cfg.RefreshTimeoutSeconds,
		DiscoverTimeoutSeconds: cfg.DiscoverTimeoutSeconds,
		DiscoverConcurrency:    cfg.DiscoverConcurrency,
		InvokeTimeoutSeconds:   cfg.InvokeTimeoutSeconds,
		Observability: domain.ObservabilityConfig{
			ListenAddress: cfg.Observability.ListenAddress,
			EnableMetrics: cfg.Observability.EnableMetrics,
			EnableHealthz: cfg.Observability.EnableHealthz,
		},
	}

	l.logger.Debug("catalog loaded", zap.Int("connections", len(connections)))
	return domain.Catalog{Connections: connections, Runtime: runtime}, nil
}

func normalizeConnection(raw rawConnection, index int) (domain.Connection, []string) {
	var errs []string
	prefix := fmt.Sprintf("connections[%d]", index)

	if raw.Name == "" {
		errs = append(errs, prefix+": name is required")
	} else if !namePattern.MatchString(raw.Name) {
		errs = append(errs, fmt.Sprintf("%s: name %q must match %s (the qualified-name separator %q is reserved)",
			prefix, raw.Name, namePattern.String(), domain.QualifiedNameSeparator))
	}

	if raw.BaseAddress == "" {
		errs = append(errs, prefix+": baseAddress is required")
	} else if parsed, err := url.Parse(raw.BaseAddress); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Sprintf("%s: baseAddress %q must be an absolute URL", prefix, raw.BaseAddress))
	}

	conn := domain.Connection{
		Name:        raw.Name,
		BaseAddress: raw.BaseAddress,
		Scopes:      raw.Scopes,
	}

	switch domain.AuthKind(raw.Auth) {
	case domain.AuthNone, "":
		conn.Auth = domain.AuthNone

	case domain.AuthOAuth2:
		conn.Auth = domain.AuthOAuth2
		oauth, oauthErrs := normalizeOAuth2(raw.OAuth2, prefix)
		errs = append(errs, oauthErrs...)
		conn.OAuth2 = oauth

	case domain.AuthStaticBearer:
		conn.Auth = domain.AuthStaticBearer
		bearer, bearerErrs := normalizeStaticBearer(raw.StaticBearer, prefix)
		errs = append(errs, bearerErrs...)
		conn.StaticBearer = bearer

	default:
		errs = append(errs, fmt.Sprintf("%s: unknown auth kind %q", prefix, raw.Auth))
	}

	if len(errs) > 0 {
		return domain.Connection{}, errs
	}
	return conn, nil
}

func normalizeOAuth2(raw rawOAuth2, prefix string) (*domain.OAuth2Config, []string) {
	var errs []string
	if raw.TokenURL == "" {
		errs = append(errs, prefix+": oauth2.tokenURL is required")
	}
	if raw.ClientID == "" {
		errs = append(errs, prefix+": oauth2.clientID is required")
	}
	secret := ""
	if raw.ClientSecretRef != "" {
		resolved, err := resolveSecretRef(raw.ClientSecretRef)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: oauth2.clientSecretRef: %v", prefix, err))
		}
		secret = resolved
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &domain.OAuth2Config{
		AuthorizeURL: raw.AuthorizeURL,
		TokenURL:     raw.TokenURL,
		ClientID:     raw.ClientID,
		ClientSecret: secret,
	}, nil
}

func normalizeStaticBearer(raw rawStaticBearer, prefix string) (*domain.StaticBearerConfig, []string) {
	var errs []string
	if raw.SecretRef == "" {
		errs = append(errs, prefix+": staticBearer.secretRef is required")
	}
	secret := ""
	if raw.SecretRef != "" {
		resolved, err := resolveSecretRef(raw.SecretRef)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: staticBearer.secretRef: %v", prefix, err))
		}
		secret = resolved
	}

	algorithm := raw.Algorithm
	if algorithm == "" {
		algorithm = domain.DefaultStaticBearerAlgorithm
	}
	switch algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Sprintf("%s: staticBearer.algorithm %q is not supported", prefix, raw.Algorithm))
	}

	lifetime := raw.LifetimeSeconds
	if lifetime <= 0 {
		lifetime = domain.DefaultStaticBearerLifetimeSeconds
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &domain.StaticBearerConfig{
		SigningSecret: []byte(secret),
		Issuer:        raw.Issuer,
		Audience:      raw.Audience,
		Algorithm:     algorithm,
		Lifetime:      time.Duration(lifetime) * time.Second,
	}, nil
}

// resolveSecretRef resolves a secret reference of the form env:NAME (bare
// names are treated as env references too). Secrets never appear inline in
// the catalog file.
func resolveSecretRef(ref string) (string, error) {
	name := strings.TrimPrefix(ref, "env:")
	if name == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %q is not set", name)
	}
	return value, nil
}
