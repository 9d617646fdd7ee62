package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const tokensTable = "keygate.tokens"

var tokenColumns = []string{
	"id",
	"key_value",
	"identity_key",
	"session_id",
	"ip",
	"fingerprint",
	"user_agent",
	"stage",
	"status",
	"created_at",
	"expires_at",
	"issued_at",
	"last_accessed_at",
	"revoked_at",
}

// TokenRepository implements port.TokenRepository for PostgreSQL. A partial
// unique index on (identity_key) WHERE status = 'active' backs the
// one-active-token-per-identity invariant.
type TokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewTokenRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	repo := &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
		now:     r.now,
	}
}

// CreateOrGetActive looks up the active token bound to the identity, creating
// one at stage zero when none exists. The insert carries ON CONFLICT DO
// NOTHING against the active-identity index, then refetches, so a concurrent
// create for the same identity yields the same record for both callers. An
// expired row the sweeper has not reached yet still occupies the index slot;
// when the refetch comes back empty the slot is cleared and the insert runs
// once more, so a returning visitor restarts at stage zero instead of being
// locked out until the next sweep.
func (r *TokenRepository) CreateOrGetActive(ctx context.Context, identity domain.Identity, ttl time.Duration) (*domain.Token, error) {
	now := r.now()
	identityKey := identity.Key()

	existing, err := r.getActiveByIdentityKey(ctx, identityKey, now)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	candidate := domain.Token{
		ID:             uuid.NewString(),
		IdentityKey:    identityKey,
		SessionID:      identity.SessionID,
		IP:             identity.IP,
		Fingerprint:    identity.Fingerprint,
		UserAgent:      identity.UserAgent,
		Stage:          domain.StageNone,
		Status:         domain.StatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}

	sql, args, err := r.builder.Insert(tokensTable).
		Columns(
			"id",
			"identity_key",
			"session_id",
			"ip",
			"fingerprint",
			"user_agent",
			"stage",
			"status",
			"created_at",
			"expires_at",
			"last_accessed_at",
		).
		Values(
			candidate.ID,
			candidate.IdentityKey,
			candidate.SessionID,
			candidate.IP,
			candidate.Fingerprint,
			candidate.UserAgent,
			candidate.Stage,
			candidate.Status,
			candidate.CreatedAt,
			candidate.ExpiresAt,
			candidate.LastAccessedAt,
		).
		Suffix("ON CONFLICT (identity_key) WHERE status = 'active' DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert token sql: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
			return nil, fmt.Errorf("insert token: %w", err)
		}

		// Refetch rather than trusting the candidate: a concurrent insert may
		// have won the conflict.
		token, err := r.getActiveByIdentityKey(ctx, identityKey, now)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		// The insert conflicted yet nothing unexpired holds the slot, so the
		// conflicting row must be expired but unswept.
		if attempt == 0 {
			if err := r.clearExpiredSlot(ctx, identityKey, now); err != nil {
				return nil, err
			}
		}
	}

	return nil, repository.ErrNotFound
}

// clearExpiredSlot deletes an expired row still marked active for the
// identity, freeing the partial unique index slot for a fresh insert.
func (r *TokenRepository) clearExpiredSlot(ctx context.Context, identityKey string, now time.Time) error {
	sql, args, err := r.builder.Delete(tokensTable).
		Where(squirrel.Eq{"identity_key": identityKey}).
		Where(squirrel.Eq{"status": domain.StatusActive}).
		Where(squirrel.LtOrEq{"expires_at": now}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear expired slot sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("clear expired token: %w", err)
	}
	return nil
}

// GetByID returns a token by its identifier.
func (r *TokenRepository) GetByID(ctx context.Context, tokenID string) (*domain.Token, error) {
	sql, args, err := r.builder.
		Select(tokenColumns...).
		From(tokensTable).
		Where(squirrel.Eq{"id": tokenID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token by id sql: %w", err)
	}

	return r.scanOne(r.exec.QueryRow(ctx, sql, args...))
}

// GetByKeyValue returns a token by its issued key value.
func (r *TokenRepository) GetByKeyValue(ctx context.Context, keyValue string) (*domain.Token, error) {
	sql, args, err := r.builder.
		Select(tokenColumns...).
		From(tokensTable).
		Where(squirrel.Eq{"key_value": keyValue}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token by key sql: %w", err)
	}

	return r.scanOne(r.exec.QueryRow(ctx, sql, args...))
}

// AdvanceStage persists a single-step stage increment. The WHERE clause pins
// the previous stage, so two racing completions resolve to exactly one
// successful advance; the loser observes ErrStaleTransition.
func (r *TokenRepository) AdvanceStage(ctx context.Context, tokenID string, target domain.Stage, at time.Time) (*domain.Token, error) {
	sql, args, err := r.builder.Update(tokensTable).
		Set("stage", target).
		Set("last_accessed_at", at).
		Where(squirrel.Eq{"id": tokenID}).
		Where(squirrel.Eq{"stage": target - 1}).
		Where(squirrel.Eq{"status": domain.StatusActive}).
		Where(squirrel.Gt{"expires_at": at}).
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build advance stage sql: %w", err)
	}

	token, err := r.scanOne(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrStaleTransition
		}
		return nil, fmt.Errorf("advance stage: %w", err)
	}

	return token, nil
}

// IssueKey persists the generated key value once. A token whose key_value is
// already set keeps its stored value; the repository refetches to classify
// the zero-row case for the caller.
func (r *TokenRepository) IssueKey(ctx context.Context, tokenID, keyValue string, at time.Time) (*domain.Token, error) {
	sql, args, err := r.builder.Update(tokensTable).
		Set("key_value", keyValue).
		Set("issued_at", at).
		Set("last_accessed_at", at).
		Where(squirrel.Eq{"id": tokenID}).
		Where(squirrel.GtOrEq{"stage": domain.StageFinal}).
		Where(squirrel.Eq{"status": domain.StatusActive}).
		Where("key_value IS NULL").
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build issue key sql: %w", err)
	}

	token, err := r.scanOne(r.exec.QueryRow(ctx, sql, args...))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("issue key: %w", err)
	}

	current, getErr := r.GetByID(ctx, tokenID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Issued() {
		return current, repository.ErrAlreadyIssued
	}
	return current, repository.ErrStaleTransition
}

// TouchLastAccessed updates the analytics timestamp.
func (r *TokenRepository) TouchLastAccessed(ctx context.Context, tokenID string, at time.Time) error {
	sql, args, err := r.builder.Update(tokensTable).
		Set("last_accessed_at", at).
		Where(squirrel.Eq{"id": tokenID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	return nil
}

// Revoke marks the token revoked. Idempotent: revoking twice leaves the first
// revocation timestamp in place.
func (r *TokenRepository) Revoke(ctx context.Context, tokenID string, at time.Time) error {
	sql, args, err := r.builder.Update(tokensTable).
		Set("status", domain.StatusRevoked).
		Set("revoked_at", at).
		Where(squirrel.Eq{"id": tokenID}).
		Where(squirrel.Eq{"status": domain.StatusActive}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Delete removes the token record. Idempotent.
func (r *TokenRepository) Delete(ctx context.Context, tokenID string) error {
	sql, args, err := r.builder.Delete(tokensTable).
		Where(squirrel.Eq{"id": tokenID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// ResetStage is the administrative reset: stage returns to zero and any
// issued key is withdrawn.
func (r *TokenRepository) ResetStage(ctx context.Context, tokenID string) (*domain.Token, error) {
	sql, args, err := r.builder.Update(tokensTable).
		Set("stage", domain.StageNone).
		Set("key_value", nil).
		Set("issued_at", nil).
		Where(squirrel.Eq{"id": tokenID}).
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reset stage sql: %w", err)
	}

	token, err := r.scanOne(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ExtendExpiry pushes the expiry window forward from the supplied moment.
func (r *TokenRepository) ExtendExpiry(ctx context.Context, tokenID string, ttl time.Duration, at time.Time) (*domain.Token, error) {
	sql, args, err := r.builder.Update(tokensTable).
		Set("expires_at", at.Add(ttl)).
		Where(squirrel.Eq{"id": tokenID}).
		Where(squirrel.Eq{"status": domain.StatusActive}).
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build extend expiry sql: %w", err)
	}

	token, err := r.scanOne(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}
	return token, nil
}

// DeleteExpired removes all records past expiry and returns the session ids
// that need their bindings dropped.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) ([]domain.ExpiredToken, error) {
	sql, args, err := r.builder.Delete(tokensTable).
		Where(squirrel.LtOrEq{"expires_at": now}).
		Suffix("RETURNING id, session_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete expired sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("delete expired tokens: %w", err)
	}
	defer rows.Close()

	var expired []domain.ExpiredToken
	for rows.Next() {
		var record domain.ExpiredToken
		if err := rows.Scan(&record.ID, &record.SessionID); err != nil {
			return nil, fmt.Errorf("scan expired token: %w", err)
		}
		expired = append(expired, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired tokens: %w", err)
	}

	return expired, nil
}

// List returns the most recently created tokens for the admin surface.
func (r *TokenRepository) List(ctx context.Context, limit int) ([]domain.Token, error) {
	if limit <= 0 {
		limit = 100
	}

	sql, args, err := r.builder.
		Select(tokenColumns...).
		From(tokensTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tokens sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	return tokens, nil
}

// CountStats aggregates the counts pushed to the notifier and served by the
// stats endpoint.
func (r *TokenRepository) CountStats(ctx context.Context, now time.Time) (domain.TokenStats, error) {
	const statsSQL = `SELECT
		count(*),
		count(*) FILTER (WHERE status = 'active' AND expires_at > $1),
		count(*) FILTER (WHERE status = 'active' AND expires_at > $1 AND key_value IS NOT NULL),
		count(*) FILTER (WHERE expires_at <= $1)
	FROM keygate.tokens`

	var stats domain.TokenStats
	if err := r.exec.QueryRow(ctx, statsSQL, now).Scan(
		&stats.Total,
		&stats.Active,
		&stats.Completed,
		&stats.Expired,
	); err != nil {
		return domain.TokenStats{}, fmt.Errorf("count token stats: %w", err)
	}

	return stats, nil
}

func (r *TokenRepository) getActiveByIdentityKey(ctx context.Context, identityKey string, now time.Time) (*domain.Token, error) {
	sql, args, err := r.builder.
		Select(tokenColumns...).
		From(tokensTable).
		Where(squirrel.Eq{"identity_key": identityKey}).
		Where(squirrel.Eq{"status": domain.StatusActive}).
		Where(squirrel.Gt{"expires_at": now}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select active token sql: %w", err)
	}

	return r.scanOne(r.exec.QueryRow(ctx, sql, args...))
}

func (r *TokenRepository) scanOne(row pgx.Row) (*domain.Token, error) {
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return token, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*domain.Token, error) {
	var token domain.Token
	if err := row.Scan(
		&token.ID,
		&token.KeyValue,
		&token.IdentityKey,
		&token.SessionID,
		&token.IP,
		&token.Fingerprint,
		&token.UserAgent,
		&token.Stage,
		&token.Status,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.IssuedAt,
		&token.LastAccessedAt,
		&token.RevokedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return &token, nil
}

func returningClause() string {
	clause := "RETURNING "
	for i, col := range tokenColumns {
		if i > 0 {
			clause += ", "
		}
		clause += col
	}
	return clause
}

var _ port.TokenRepository = (*TokenRepository)(nil)
