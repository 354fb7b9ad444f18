package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"toolgate/internal/domain"
)

// Refresher obtains a new access token for one (user, connection) record by
// dispatching on the connection's auth strategy. It never touches the store;
// the coordinator owns record lifecycle around each call.
type Refresher struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewRefresher(logger *zap.Logger) *Refresher {
	return &Refresher{
		logger: logger.Named("refresh"),
		now:    time.Now,
	}
}

func (r *Refresher) Refresh(ctx context.Context, conn domain.Connection, rec domain.CredentialRecord) (domain.CredentialRecord, error) {
	switch conn.Auth {
	case domain.AuthNone:
		// Nothing to mint; such connections carry no credential state.
		return rec, nil
	case domain.AuthOAuth2:
		return r.refreshOAuth2(ctx, conn, rec)
	case domain.AuthStaticBearer:
		return r.signStaticBearer(conn, rec)
	default:
		return domain.CredentialRecord{}, domain.E(domain.CodeInvalidConfig, "refresh",
			fmt.Sprintf("connection %q: unknown auth kind %q", conn.Name, conn.Auth), nil)
	}
}

func (r *Refresher) refreshOAuth2(ctx context.Context, conn domain.Connection, rec domain.CredentialRecord) (domain.CredentialRecord, error) {
	if conn.OAuth2 == nil {
		return domain.CredentialRecord{}, domain.E(domain.CodeInvalidConfig, "refresh",
			fmt.Sprintf("connection %q: oauth2 auth without oauth2 config", conn.Name), nil)
	}
	if rec.RefreshToken == "" {
		// Without a refresh token the grant cannot be renewed; the user has
		// to re-authorize from scratch.
		return domain.CredentialRecord{}, domain.E(domain.CodeRevoked, "refresh",
			fmt.Sprintf("connection %q: no refresh token on record", conn.Name), nil)
	}

	cfg := &oauth2.Config{
		ClientID:     conn.OAuth2.ClientID,
		ClientSecret: conn.OAuth2.ClientSecret,
		Scopes:       conn.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  conn.OAuth2.AuthorizeURL,
			TokenURL: conn.OAuth2.TokenURL,
		},
	}

	started := r.now()
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
	if err != nil {
		return domain.CredentialRecord{}, classifyTokenError(conn.Name, err)
	}
	r.logger.Debug("oauth2 token refreshed",
		zap.String("connection", conn.Name),
		zap.Duration("duration", r.now().Sub(started)))

	next := rec
	next.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.ExpiresAt = tok.Expiry
	if next.ExpiresAt.IsZero() {
		// Token endpoints that omit expires_in get a conservative default.
		next.ExpiresAt = r.now().Add(time.Duration(domain.DefaultAccessTokenLifetimeSeconds) * time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		next.GrantedScopes = strings.Fields(scope)
	}
	next.Status = domain.CredentialValid
	next.RefreshingSince = time.Time{}
	return next, nil
}

func (r *Refresher) signStaticBearer(conn domain.Connection, rec domain.CredentialRecord) (domain.CredentialRecord, error) {
	sb := conn.StaticBearer
	if sb == nil {
		return domain.CredentialRecord{}, domain.E(domain.CodeInvalidConfig, "refresh",
			fmt.Sprintf("connection %q: staticBearer auth without staticBearer config", conn.Name), nil)
	}
	method := jwt.GetSigningMethod(sb.Algorithm)
	if method == nil {
		return domain.CredentialRecord{}, domain.E(domain.CodeInvalidConfig, "refresh",
			fmt.Sprintf("connection %q: unsupported signing algorithm %q", conn.Name, sb.Algorithm), nil)
	}

	now := r.now()
	claims := jwt.RegisteredClaims{
		Issuer:    sb.Issuer,
		Subject:   rec.UserID,
		Audience:  jwt.ClaimStrings{sb.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sb.Lifetime)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(sb.SigningSecret)
	if err != nil {
		return domain.CredentialRecord{}, domain.E(domain.CodeInternal, "refresh",
			fmt.Sprintf("connection %q: sign bearer", conn.Name), err)
	}

	next := rec
	next.AccessToken = signed
	next.RefreshToken = ""
	next.ExpiresAt = claims.ExpiresAt.Time
	next.Status = domain.CredentialValid
	next.RefreshingSince = time.Time{}
	return next, nil
}

// classifyTokenError maps token endpoint failures onto the gateway error
// taxonomy. An invalid_grant response means the authorization itself is gone
// and the record must be revoked, not retried.
func classifyTokenError(connection string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorCode == "invalid_grant" {
			return domain.E(domain.CodeRevoked, "refresh",
				fmt.Sprintf("connection %q: refresh token rejected (invalid_grant)", connection), err)
		}
		return domain.E(domain.CodeRemoteRejected, "refresh",
			fmt.Sprintf("connection %q: token endpoint refused refresh (%s)", connection, retrieve.ErrorCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.CodeDeadlineExceeded, "refresh", err)
	}
	return domain.E(domain.CodeUnavailable, "refresh",
		fmt.Sprintf("connection %q: token endpoint unreachable", connection), err)
}
