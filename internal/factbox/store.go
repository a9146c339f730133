// Package factbox implements the FactBox (spec.md section 4.3): trusted
// reads of Entity, License, and Regulatory-Rule data, cached in Redis and
// backed by Postgres, grounded on the teacher's domain/kyc.go and
// domain/aml.go compliance-scoring shape.
package factbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
)

// Store is the Postgres persistence layer for entities, licenses, and
// regulatory rules.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("factbox: parse pool config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("factbox: create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) GetEntity(ctx context.Context, entityID string) (*domain.Entity, error) {
	const query = `
		SELECT entity_id, name, type, jurisdiction, contact_email, contact_phone,
		       kyc_status, registrations, created_at, updated_at
		FROM entities WHERE entity_id = $1
	`
	var e domain.Entity
	var regs []byte
	err := s.pool.QueryRow(ctx, query, entityID).Scan(
		&e.EntityID, &e.Name, &e.Type, &e.Jurisdiction, &e.Contact.Email, &e.Contact.Phone,
		&e.KYCStatus, &regs, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("factbox: get entity: %w", err)
	}
	if len(regs) > 0 {
		_ = json.Unmarshal(regs, &e.Registrations)
	}
	return &e, nil
}

func (s *Store) SaveEntity(ctx context.Context, e *domain.Entity) error {
	regs, err := json.Marshal(e.Registrations)
	if err != nil {
		return fmt.Errorf("factbox: marshal registrations: %w", err)
	}
	const query = `
		INSERT INTO entities (entity_id, name, type, jurisdiction, contact_email, contact_phone,
		                       kyc_status, registrations, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (entity_id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, jurisdiction = EXCLUDED.jurisdiction,
			contact_email = EXCLUDED.contact_email, contact_phone = EXCLUDED.contact_phone,
			kyc_status = EXCLUDED.kyc_status, registrations = EXCLUDED.registrations,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		e.EntityID, e.Name, e.Type, e.Jurisdiction, e.Contact.Email, e.Contact.Phone,
		e.KYCStatus, regs, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("factbox: save entity: %w", err)
	}
	return nil
}

func (s *Store) GetLicense(ctx context.Context, licenseID string) (*domain.License, error) {
	const query = `
		SELECT license_id, entity_id, name, type, number, issuing_authority,
		       status, issue_date, expiry_date
		FROM licenses WHERE license_id = $1
	`
	var l domain.License
	err := s.pool.QueryRow(ctx, query, licenseID).Scan(
		&l.LicenseID, &l.EntityID, &l.Name, &l.Type, &l.Number, &l.IssuingAuthority,
		&l.Status, &l.IssueDate, &l.ExpiryDate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("factbox: get license: %w", err)
	}
	return &l, nil
}

func (s *Store) GetLicensesByEntity(ctx context.Context, entityID string) ([]*domain.License, error) {
	const query = `
		SELECT license_id, entity_id, name, type, number, issuing_authority,
		       status, issue_date, expiry_date
		FROM licenses WHERE entity_id = $1
	`
	rows, err := s.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("factbox: list licenses: %w", err)
	}
	defer rows.Close()

	var out []*domain.License
	for rows.Next() {
		var l domain.License
		if err := rows.Scan(
			&l.LicenseID, &l.EntityID, &l.Name, &l.Type, &l.Number, &l.IssuingAuthority,
			&l.Status, &l.IssueDate, &l.ExpiryDate,
		); err != nil {
			return nil, fmt.Errorf("factbox: scan license: %w", err)
		}
		out = append(out, &l)
	}
	return out, nil
}

func (s *Store) GetExpiringLicenses(ctx context.Context) ([]*domain.License, error) {
	const query = `
		SELECT license_id, entity_id, name, type, number, issuing_authority,
		       status, issue_date, expiry_date
		FROM licenses WHERE status = 'active'
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("factbox: list active licenses: %w", err)
	}
	defer rows.Close()

	var out []*domain.License
	for rows.Next() {
		var l domain.License
		if err := rows.Scan(
			&l.LicenseID, &l.EntityID, &l.Name, &l.Type, &l.Number, &l.IssuingAuthority,
			&l.Status, &l.IssueDate, &l.ExpiryDate,
		); err != nil {
			return nil, fmt.Errorf("factbox: scan license: %w", err)
		}
		out = append(out, &l)
	}
	return out, nil
}

func (s *Store) SaveLicense(ctx context.Context, l *domain.License) error {
	const query = `
		INSERT INTO licenses (license_id, entity_id, name, type, number, issuing_authority,
		                       status, issue_date, expiry_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (license_id) DO UPDATE SET
			status = EXCLUDED.status, expiry_date = EXCLUDED.expiry_date,
			issuing_authority = EXCLUDED.issuing_authority
	`
	_, err := s.pool.Exec(ctx, query,
		l.LicenseID, l.EntityID, l.Name, l.Type, l.Number, l.IssuingAuthority,
		l.Status, l.IssueDate, l.ExpiryDate,
	)
	if err != nil {
		return fmt.Errorf("factbox: save license: %w", err)
	}
	return nil
}

func (s *Store) GetRegulatoryRules(ctx context.Context, regulation, jurisdiction string) ([]*domain.RegulatoryRule, error) {
	const query = `
		SELECT rule_id, regulation, jurisdiction, description, effective_from, effective_to
		FROM regulatory_rules
		WHERE regulation = $1 AND jurisdiction = $2
		ORDER BY effective_from ASC
	`
	rows, err := s.pool.Query(ctx, query, regulation, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("factbox: list regulatory rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.RegulatoryRule
	for rows.Next() {
		var r domain.RegulatoryRule
		if err := rows.Scan(&r.RuleID, &r.Regulation, &r.Jurisdiction, &r.Description, &r.EffectiveFrom, &r.EffectiveTo); err != nil {
			return nil, fmt.Errorf("factbox: scan rule: %w", err)
		}
		out = append(out, &r)
	}
	return out, nil
}
