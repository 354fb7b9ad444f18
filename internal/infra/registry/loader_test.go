package registry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

const validCatalog = `
expiryLeewaySeconds: 90
connections:
  - name: github
    baseAddress: https://github-tools.example.com/mcp
    auth: oauth2
    scopes: [repo, read:org]
    oauth2:
      authorizeURL: https://auth.example.com/authorize
      tokenURL: https://auth.example.com/token
      clientID: gw-client
      clientSecretRef: env:GITHUB_CLIENT_SECRET
  - name: search
    baseAddress: https://search.example.com/mcp
    auth: staticBearer
    staticBearer:
      secretRef: SEARCH_SIGNING_KEY
      issuer: toolgate
      audience: search.example.com
      lifetimeSeconds: 120
  - name: public
    baseAddress: https://public.example.com/mcp
    auth: none
`

func TestLoader_ParseValidCatalog(t *testing.T) {
	t.Setenv("GITHUB_CLIENT_SECRET", "s3cret")
	t.Setenv("SEARCH_SIGNING_KEY", "signing-key")

	catalog, err := NewLoader(nil).Parse([]byte(validCatalog))
	require.NoError(t, err)

	want := []domain.Connection{
		{
			Name:        "github",
			BaseAddress: "https://github-tools.example.com/mcp",
			Auth:        domain.AuthOAuth2,
			Scopes:      []string{"repo", "read:org"},
			OAuth2: &domain.OAuth2Config{
				AuthorizeURL: "https://auth.example.com/authorize",
				TokenURL:     "https://auth.example.com/token",
				ClientID:     "gw-client",
				ClientSecret: "s3cret",
			},
		},
		{
			Name:        "search",
			BaseAddress: "https://search.example.com/mcp",
			Auth:        domain.AuthStaticBearer,
			StaticBearer: &domain.StaticBearerConfig{
				SigningSecret: []byte("signing-key"),
				Issuer:        "toolgate",
				Audience:      "search.example.com",
				Algorithm:     "HS256",
				Lifetime:      120 * time.Second,
			},
		},
		{
			Name:        "public",
			BaseAddress: "https://public.example.com/mcp",
			Auth:        domain.AuthNone,
		},
	}
	if diff := cmp.Diff(want, catalog.Connections); diff != "" {
		t.Fatalf("connections mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 90, catalog.Runtime.ExpiryLeewaySeconds)
	require.Equal(t, 90*time.Second, catalog.Runtime.ExpiryLeeway())
	// Untouched tunables come from defaults.
	require.Equal(t, domain.DefaultDiscoverTimeoutSeconds, catalog.Runtime.DiscoverTimeoutSeconds)
	require.Equal(t, domain.DefaultObservabilityListenAddress, catalog.Runtime.Observability.ListenAddress)
}

func TestLoader_DuplicateNameFails(t *testing.T) {
	doc := `
connections:
  - name: dup
    baseAddress: https://a.example.com/mcp
    auth: none
  - name: dup
    baseAddress: https://b.example.com/mcp
    auth: none
`
	_, err := NewLoader(nil).Parse([]byte(doc))
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInvalidConfig, code)
	require.Contains(t, err.Error(), "duplicate name")
}

func TestLoader_OAuth2RequiresTokenURL(t *testing.T) {
	doc := `
connections:
  - name: broken
    baseAddress: https://a.example.com/mcp
    auth: oauth2
    oauth2:
      clientID: id
`
	_, err := NewLoader(nil).Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "oauth2.tokenURL is required")
}

func TestLoader_StaticBearerRequiresSecretRef(t *testing.T) {
	doc := `
connections:
  - name: broken
    baseAddress: https://a.example.com/mcp
    auth: staticBearer
    staticBearer:
      issuer: toolgate
`
	_, err := NewLoader(nil).Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "staticBearer.secretRef is required")
}

func TestLoader_MissingSecretEnvFails(t *testing.T) {
	doc := `
connections:
  - name: broken
    baseAddress: https://a.example.com/mcp
    auth: oauth2
    oauth2:
      tokenURL: https://auth.example.com/token
      clientID: id
      clientSecretRef: env:TOOLGATE_TEST_UNSET_SECRET
`
	_, err := NewLoader(nil).Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "TOOLGATE_TEST_UNSET_SECRET")
}

func TestLoader_UnknownAuthKindFails(t *testing.T) {
	doc := `
connections:
  - name: broken
    baseAddress: https://a.example.com/mcp
    auth: kerberos
`
	_, err := NewLoader(nil).Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown auth kind")
}

func TestLoader_NameMustNotContainSeparator(t *testing.T) {
	doc := `
connections:
  - name: bad.name
    baseAddress: https://a.example.com/mcp
    auth: none
`
	_, err := NewLoader(nil).Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reserved")
}
