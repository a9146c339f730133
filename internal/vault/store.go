package vault

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
)

// Store is the Postgres persistence layer for Credentials, adapted from
// the teacher's pgxpool setup in internal/repository/postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("vault: parse pool config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("vault: create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Insert(ctx context.Context, c *domain.Credential) error {
	const query = `
		INSERT INTO vault_credentials (
			credential_id, scope, kind, blob, key_version, created_at,
			expires_at, last_used_at, usage_count, owning_entity_id, superseded_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err := s.pool.Exec(ctx, query,
		c.CredentialID, c.Scope, c.Kind, c.Cipher.Blob, c.Cipher.KeyVersion, c.Cipher.CreatedAt,
		c.ExpiresAt, c.LastUsedAt, c.UsageCount, c.OwningEntityID, c.SupersededBy,
	)
	if err != nil {
		return fmt.Errorf("vault: insert credential: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, credentialID string) (*domain.Credential, error) {
	const query = `
		SELECT credential_id, scope, kind, blob, key_version, created_at,
		       expires_at, last_used_at, usage_count, owning_entity_id, superseded_by
		FROM vault_credentials WHERE credential_id = $1
	`
	var c domain.Credential
	var createdAt = &c.Cipher.CreatedAt
	err := s.pool.QueryRow(ctx, query, credentialID).Scan(
		&c.CredentialID, &c.Scope, &c.Kind, &c.Cipher.Blob, &c.Cipher.KeyVersion, createdAt,
		&c.ExpiresAt, &c.LastUsedAt, &c.UsageCount, &c.OwningEntityID, &c.SupersededBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: get credential: %w", err)
	}
	c.CreatedAt = c.Cipher.CreatedAt
	return &c, nil
}

func (s *Store) UpdateUsage(ctx context.Context, credentialID string, lastUsedAt, usageCount int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE vault_credentials SET last_used_at = to_timestamp($1), usage_count = $2 WHERE credential_id = $3`,
		lastUsedAt, usageCount, credentialID,
	)
	return err
}

func (s *Store) MarkSuperseded(ctx context.Context, credentialID, supersededBy string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE vault_credentials SET superseded_by = $1 WHERE credential_id = $2`,
		supersededBy, credentialID,
	)
	return err
}

func (s *Store) Delete(ctx context.Context, credentialID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vault_credentials WHERE credential_id = $1`, credentialID)
	return err
}

// All returns every stored credential, used only by rotateMasterKey's
// decrypt-everything-then-re-encrypt pass.
func (s *Store) All(ctx context.Context) ([]*domain.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT credential_id, scope, kind, blob, key_version, created_at,
		       expires_at, last_used_at, usage_count, owning_entity_id, superseded_by
		FROM vault_credentials
	`)
	if err != nil {
		return nil, fmt.Errorf("vault: list credentials: %w", err)
	}
	defer rows.Close()

	var out []*domain.Credential
	for rows.Next() {
		var c domain.Credential
		if err := rows.Scan(
			&c.CredentialID, &c.Scope, &c.Kind, &c.Cipher.Blob, &c.Cipher.KeyVersion, &c.Cipher.CreatedAt,
			&c.ExpiresAt, &c.LastUsedAt, &c.UsageCount, &c.OwningEntityID, &c.SupersededBy,
		); err != nil {
			return nil, fmt.Errorf("vault: scan credential: %w", err)
		}
		c.CreatedAt = c.Cipher.CreatedAt
		out = append(out, &c)
	}
	return out, nil
}

// BlobUpdate is one credential's re-sealed ciphertext.
type BlobUpdate struct {
	CredentialID string
	Blob         []byte
	KeyVersion   int
}

// ReplaceAllBlobs rewrites every credential's ciphertext inside a single
// transaction, so rotateMasterKey is all-or-nothing: a failure mid-rotation
// rolls back and leaves the vault readable under the old key.
func (s *Store) ReplaceAllBlobs(ctx context.Context, updates []BlobUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vault: begin rotation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE vault_credentials SET blob = $1, key_version = $2 WHERE credential_id = $3`,
			u.Blob, u.KeyVersion, u.CredentialID,
		); err != nil {
			return fmt.Errorf("vault: re-seal credential %s: %w", u.CredentialID, err)
		}
	}
	return tx.Commit(ctx)
}
