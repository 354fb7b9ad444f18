package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func TestRegistry_GetAndListOrder(t *testing.T) {
	reg, err := New([]domain.Connection{
		{Name: "beta", BaseAddress: "https://b.example.com", Auth: domain.AuthNone},
		{Name: "alpha", BaseAddress: "https://a.example.com", Auth: domain.AuthNone},
	})
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	conn, err := reg.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, "https://a.example.com", conn.BaseAddress)

	// List preserves configuration order, not lexical order.
	names := []string{}
	for _, c := range reg.List() {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"beta", "alpha"}, names)
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)

	_, err = reg.Get("missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrConnectionNotFound))
	code, _ := domain.CodeFrom(err)
	require.Equal(t, domain.CodeNotFound, code)
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	_, err := New([]domain.Connection{
		{Name: "dup"},
		{Name: "dup"},
	})
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	require.Equal(t, domain.CodeInvalidConfig, code)
}
