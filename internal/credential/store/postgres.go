package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"emblem/internal/credential/models"
	id "emblem/pkg/domain"
)

// PostgresAssertions persists assertions in PostgreSQL.
type PostgresAssertions struct {
	db *sql.DB
}

// NewPostgresAssertions constructs a PostgreSQL-backed assertion store.
func NewPostgresAssertions(db *sql.DB) *PostgresAssertions {
	return &PostgresAssertions{db: db}
}

// Create inserts the assertion, allocating the tenant's next status list
// index inside the same transaction.
func (s *PostgresAssertions) Create(ctx context.Context, assertion models.Assertion) (models.Assertion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Assertion{}, fmt.Errorf("begin create assertion: %w", err)
	}
	defer tx.Rollback()

	// Advisory lock serializes index allocation per tenant for the length of
	// the transaction; indices stay dense and are never reused.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('assertions:' || $1))`,
		assertion.TenantID.String()); err != nil {
		return models.Assertion{}, fmt.Errorf("lock tenant index range: %w", err)
	}

	var index int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(status_list_index), -1) + 1
		FROM assertions
		WHERE tenant_id = $1
	`, assertion.TenantID.String()).Scan(&index)
	if err != nil {
		return models.Assertion{}, fmt.Errorf("allocate status list index: %w", err)
	}
	assertion.StatusListIndex = &index

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assertions (id, tenant_id, learner_id, badge_template_id, issued_at, revoked_at, status_list_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		assertion.ID.String(),
		assertion.TenantID.String(),
		assertion.LearnerID.String(),
		assertion.BadgeTemplateID.String(),
		assertion.IssuedAt,
		assertion.RevokedAt,
		index,
	)
	if err != nil {
		return models.Assertion{}, fmt.Errorf("insert assertion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Assertion{}, fmt.Errorf("commit create assertion: %w", err)
	}
	return assertion, nil
}

const assertionColumns = `id, tenant_id, learner_id, badge_template_id, issued_at, revoked_at, status_list_index`

func (s *PostgresAssertions) FindByID(ctx context.Context, assertionID id.AssertionID) (models.Assertion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assertionColumns+` FROM assertions WHERE id = $1`,
		assertionID.String(),
	)
	return scanAssertion(row)
}

func (s *PostgresAssertions) FindByLearnerAndTemplate(ctx context.Context, learnerID id.LearnerID, templateID id.BadgeTemplateID) (models.Assertion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assertionColumns+`
		FROM assertions
		WHERE learner_id = $1 AND badge_template_id = $2
		ORDER BY issued_at ASC
		LIMIT 1
	`, learnerID.String(), templateID.String())
	return scanAssertion(row)
}

func (s *PostgresAssertions) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]models.Assertion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assertionColumns+` FROM assertions WHERE tenant_id = $1 ORDER BY status_list_index`,
		tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list assertions: %w", err)
	}
	defer rows.Close()

	var out []models.Assertion
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkRevoked stamps RevokedAt once; a second revocation keeps the original
// timestamp.
func (s *PostgresAssertions) MarkRevoked(ctx context.Context, assertionID id.AssertionID, revokedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE assertions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, assertionID.String(), revokedAt)
	if err != nil {
		return fmt.Errorf("mark assertion revoked: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		// Either already revoked (fine) or missing.
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM assertions WHERE id = $1)`,
			assertionID.String(),
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("check assertion exists: %w", checkErr)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssertion(row rowScanner) (models.Assertion, error) {
	var (
		a                                       models.Assertion
		rawID, rawTenant, rawLearner, rawReward string
		revokedAt                               sql.NullTime
		index                                   sql.NullInt64
	)
	err := row.Scan(&rawID, &rawTenant, &rawLearner, &rawReward, &a.IssuedAt, &revokedAt, &index)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Assertion{}, ErrNotFound
		}
		return models.Assertion{}, fmt.Errorf("scan assertion: %w", err)
	}
	if a.ID, err = id.ParseAssertionID(rawID); err != nil {
		return models.Assertion{}, err
	}
	if a.TenantID, err = id.ParseTenantID(rawTenant); err != nil {
		return models.Assertion{}, err
	}
	if a.LearnerID, err = id.ParseLearnerID(rawLearner); err != nil {
		return models.Assertion{}, err
	}
	if a.BadgeTemplateID, err = id.ParseBadgeTemplateID(rawReward); err != nil {
		return models.Assertion{}, err
	}
	if revokedAt.Valid {
		a.RevokedAt = &revokedAt.Time
	}
	if index.Valid {
		i := int(index.Int64)
		a.StatusListIndex = &i
	}
	return a, nil
}

// PostgresLifecycle persists lifecycle events in PostgreSQL.
type PostgresLifecycle struct {
	db *sql.DB
}

// NewPostgresLifecycle constructs a PostgreSQL-backed lifecycle store.
func NewPostgresLifecycle(db *sql.DB) *PostgresLifecycle {
	return &PostgresLifecycle{db: db}
}

func (s *PostgresLifecycle) Append(ctx context.Context, event models.LifecycleEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (assertion_id, state, reason_code, reason, transitioned_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		event.AssertionID.String(),
		string(event.State),
		event.ReasonCode,
		event.Reason,
		event.TransitionedAt,
		event.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("append lifecycle event: %w", err)
	}
	return nil
}

func (s *PostgresLifecycle) Latest(ctx context.Context, assertionID id.AssertionID) (*models.LifecycleEvent, error) {
	var (
		event     models.LifecycleEvent
		rawID     string
		rawState  string
		revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT assertion_id, state, reason_code, reason, transitioned_at, revoked_at
		FROM lifecycle_events
		WHERE assertion_id = $1
		ORDER BY transitioned_at DESC, id DESC
		LIMIT 1
	`, assertionID.String()).Scan(&rawID, &rawState, &event.ReasonCode, &event.Reason, &event.TransitionedAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest lifecycle event: %w", err)
	}
	if event.AssertionID, err = id.ParseAssertionID(rawID); err != nil {
		return nil, err
	}
	event.State = models.LifecycleState(rawState)
	if revokedAt.Valid {
		event.RevokedAt = &revokedAt.Time
	}
	return &event, nil
}
