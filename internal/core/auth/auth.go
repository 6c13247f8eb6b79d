// Package auth provides HMAC-based API key authentication for collectors.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const collectorKey = contextKey("collector")

// Queries is the subset of *db.Queries the authenticator needs.
type Queries interface {
	Get(name string, dest interface{}, args ...interface{}) error
	Exec(name string, args ...interface{}) (sql.Result, error)
}

// FailureCounter is notified of every rejected credential.
type FailureCounter interface {
	IncAuthFailures()
}

// Authenticator validates API keys against stored HMAC-SHA256 hashes.
type Authenticator struct {
	secrets  map[string][]byte
	queries  Queries
	failures FailureCounter
	now      func() time.Time
}

// NewAuthenticator creates an authenticator. failures may be nil.
func NewAuthenticator(secrets map[string][]byte, queries Queries, failures FailureCounter) *Authenticator {
	return &Authenticator{
		secrets:  secrets,
		queries:  queries,
		failures: failures,
		now:      time.Now,
	}
}

// Authenticate validates apiKey and returns the collector it was issued to.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row struct {
		APIKeyID   string       `db:"api_key_id"`
		Collector  string       `db:"collector"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	err = a.queries.Get("get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// last_used_at is refreshed at most once a minute per key
	if shouldUpdateLastUsed(row.LastUsedAt, a.now()) {
		_, _ = a.queries.Exec("update-last-used", a.now().UTC(), row.APIKeyID)
	}

	return row.Collector, nil
}

func shouldUpdateLastUsed(lastUsed sql.NullTime, now time.Time) bool {
	if !lastUsed.Valid {
		return true
	}
	return now.Sub(lastUsed.Time) > time.Minute
}

// UnaryInterceptor authenticates every call except those in skip (full
// method names, e.g. the health check).
func (a *Authenticator) UnaryInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(skip))
	for _, m := range skip {
		open[m] = true
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if open[info.FullMethod] {
			return handler(ctx, req)
		}

		collector, err := a.authenticateMetadata(ctx)
		if err != nil {
			if a.failures != nil {
				a.failures.IncAuthFailures()
			}
			return nil, toStatus(err)
		}
		return handler(WithCollector(ctx, collector), req)
	}
}

func (a *Authenticator) authenticateMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingKey
	}
	keys := md.Get("x-api-key")
	if len(keys) == 0 {
		return "", ErrMissingKey
	}
	return a.Authenticate(ctx, keys[0])
}

// toStatus maps errors onto gRPC codes: revoked keys are PermissionDenied,
// store failures Unavailable, everything else Unauthenticated.
func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrStore):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

// WithCollector attaches an authenticated collector name to ctx.
func WithCollector(ctx context.Context, collector string) context.Context {
	return context.WithValue(ctx, collectorKey, collector)
}

// CollectorFromContext returns the authenticated collector, or "".
func CollectorFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(collectorKey).(string); ok {
		return c
	}
	return ""
}
