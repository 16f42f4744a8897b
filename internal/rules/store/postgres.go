package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"emblem/internal/rules/models"
	id "emblem/pkg/domain"
)

// Postgres persists rules in PostgreSQL. Transition guards run as
// conditional updates inside one transaction, so a lost race surfaces
// ErrStaleState instead of overwriting a concurrent decision.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed rule store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateRule(ctx context.Context, rule models.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, tenant_id, badge_template_id, active_version_id)
		VALUES ($1, $2, $3, NULL)
	`, rule.ID.String(), rule.TenantID.String(), rule.BadgeTemplateID.String())
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *Postgres) FindRule(ctx context.Context, ruleID id.RuleID) (models.Rule, error) {
	var (
		rule                          models.Rule
		rawID, rawTenant, rawTemplate string
		activeVersion                 sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, badge_template_id, active_version_id
		FROM rules WHERE id = $1
	`, ruleID.String()).Scan(&rawID, &rawTenant, &rawTemplate, &activeVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("find rule: %w", err)
	}
	if rule.ID, err = id.ParseRuleID(rawID); err != nil {
		return models.Rule{}, err
	}
	if rule.TenantID, err = id.ParseTenantID(rawTenant); err != nil {
		return models.Rule{}, err
	}
	if rule.BadgeTemplateID, err = id.ParseBadgeTemplateID(rawTemplate); err != nil {
		return models.Rule{}, err
	}
	if activeVersion.Valid {
		versionID, err := id.ParseRuleVersionID(activeVersion.String)
		if err != nil {
			return models.Rule{}, err
		}
		rule.ActiveVersionID = &versionID
	}
	return rule, nil
}

func (s *Postgres) CreateVersion(ctx context.Context, version models.RuleVersion) error {
	definition, err := json.Marshal(version.Definition)
	if err != nil {
		return fmt.Errorf("marshal rule definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_versions (id, rule_id, version_number, status, definition, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		version.ID.String(),
		version.RuleID.String(),
		version.VersionNumber,
		string(version.Status),
		definition,
		version.CreatedBy.String(),
		version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule version: %w", err)
	}
	return nil
}

const versionColumns = `id, rule_id, version_number, status, definition, created_by, approved_by, activated_by, created_at`

func (s *Postgres) FindVersion(ctx context.Context, versionID id.RuleVersionID) (models.RuleVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM rule_versions WHERE id = $1`, versionID.String())
	return scanVersion(row)
}

func (s *Postgres) ListVersions(ctx context.Context, ruleID id.RuleID) ([]models.RuleVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM rule_versions WHERE rule_id = $1 ORDER BY version_number`,
		ruleID.String())
	if err != nil {
		return nil, fmt.Errorf("list rule versions: %w", err)
	}
	defer rows.Close()

	var out []models.RuleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Postgres) NextVersionNumber(ctx context.Context, ruleID id.RuleID) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) + 1 FROM rule_versions WHERE rule_id = $1
	`, ruleID.String()).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return next, nil
}

func (s *Postgres) ListSteps(ctx context.Context, versionID id.RuleVersionID) ([]models.ApprovalStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, step_number, required_role, status
		FROM approval_steps WHERE version_id = $1 ORDER BY step_number
	`, versionID.String())
	if err != nil {
		return nil, fmt.Errorf("list approval steps: %w", err)
	}
	defer rows.Close()

	var out []models.ApprovalStep
	for rows.Next() {
		var (
			step           models.ApprovalStep
			rawID, rawRole string
			rawStatus      string
		)
		if err := rows.Scan(&rawID, &step.StepNumber, &rawRole, &rawStatus); err != nil {
			return nil, fmt.Errorf("scan approval step: %w", err)
		}
		if step.VersionID, err = id.ParseRuleVersionID(rawID); err != nil {
			return nil, err
		}
		step.RequiredRole = models.Role(rawRole)
		step.Status = models.StepStatus(rawStatus)
		out = append(out, step)
	}
	return out, rows.Err()
}

func (s *Postgres) ListEvents(ctx context.Context, versionID id.RuleVersionID) ([]models.ApprovalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, actor_id, actor_role, action, step_number, comment, occurred_at
		FROM approval_events WHERE version_id = $1 ORDER BY id
	`, versionID.String())
	if err != nil {
		return nil, fmt.Errorf("list approval events: %w", err)
	}
	defer rows.Close()

	var out []models.ApprovalEvent
	for rows.Next() {
		var (
			event                    models.ApprovalEvent
			rawID, rawActor, rawRole string
		)
		if err := rows.Scan(&rawID, &rawActor, &rawRole, &event.Action, &event.StepNumber, &event.Comment, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan approval event: %w", err)
		}
		if event.VersionID, err = id.ParseRuleVersionID(rawID); err != nil {
			return nil, err
		}
		if event.ActorID, err = id.ParseUserID(rawActor); err != nil {
			return nil, err
		}
		event.ActorRole = models.Role(rawRole)
		out = append(out, event)
	}
	return out, rows.Err()
}

func (s *Postgres) Submit(ctx context.Context, versionID id.RuleVersionID, steps []models.ApprovalStep, event models.ApprovalEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE rule_versions SET status = $2 WHERE id = $1 AND status = $3
		`, versionID.String(), string(models.VersionPendingApproval), string(models.VersionDraft))
		if err != nil {
			return fmt.Errorf("submit version: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		for _, step := range steps {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO approval_steps (version_id, step_number, required_role, status)
				VALUES ($1, $2, $3, $4)
			`, versionID.String(), step.StepNumber, string(step.RequiredRole), string(step.Status))
			if err != nil {
				return fmt.Errorf("insert approval step: %w", err)
			}
		}
		return appendEvent(ctx, tx, event)
	})
}

func (s *Postgres) Decide(ctx context.Context, versionID id.RuleVersionID, stepNumber int, stepStatus models.StepStatus, versionStatus models.VersionStatus, event models.ApprovalEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE approval_steps SET status = $3
			WHERE version_id = $1 AND step_number = $2 AND status = $4
		`, versionID.String(), stepNumber, string(stepStatus), string(models.StepPending))
		if err != nil {
			return fmt.Errorf("decide step: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}

		switch versionStatus {
		case models.VersionApproved:
			result, err = tx.ExecContext(ctx, `
				UPDATE rule_versions SET status = $2, approved_by = $3
				WHERE id = $1 AND status = $4
			`, versionID.String(), string(versionStatus), event.ActorID.String(), string(models.VersionPendingApproval))
		case models.VersionRejected:
			// ApprovedBy names the final approver; a rejection leaves it null.
			result, err = tx.ExecContext(ctx, `
				UPDATE rule_versions SET status = $2
				WHERE id = $1 AND status = $3
			`, versionID.String(), string(versionStatus), string(models.VersionPendingApproval))
		default:
			// Intermediate approval: the version stays pending, but the guard
			// still verifies no concurrent terminal transition happened.
			result, err = tx.ExecContext(ctx, `
				UPDATE rule_versions SET status = status
				WHERE id = $1 AND status = $2
			`, versionID.String(), string(models.VersionPendingApproval))
		}
		if err != nil {
			return fmt.Errorf("update version status: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		return appendEvent(ctx, tx, event)
	})
}

func (s *Postgres) Activate(ctx context.Context, versionID id.RuleVersionID, event models.ApprovalEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var rawRuleID string
		err := tx.QueryRowContext(ctx,
			`SELECT rule_id FROM rule_versions WHERE id = $1 FOR UPDATE`,
			versionID.String()).Scan(&rawRuleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock version: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rule_versions SET status = $2
			WHERE rule_id = $1 AND status = $3
		`, rawRuleID, string(models.VersionSuperseded), string(models.VersionActive))
		if err != nil {
			return fmt.Errorf("supersede prior version: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE rule_versions SET status = $2, activated_by = $3
			WHERE id = $1 AND status = $4
		`, versionID.String(), string(models.VersionActive), event.ActorID.String(), string(models.VersionApproved))
		if err != nil {
			return fmt.Errorf("activate version: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE rules SET active_version_id = $2 WHERE id = $1`,
			rawRuleID, versionID.String())
		if err != nil {
			return fmt.Errorf("set active version pointer: %w", err)
		}
		return appendEvent(ctx, tx, event)
	})
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleState
	}
	return nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, event models.ApprovalEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO approval_events (version_id, actor_id, actor_role, action, step_number, comment, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		event.VersionID.String(),
		event.ActorID.String(),
		string(event.ActorRole),
		event.Action,
		event.StepNumber,
		event.Comment,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append approval event: %w", err)
	}
	return nil
}

// PostgresEvaluations persists evaluation audit records.
type PostgresEvaluations struct {
	db *sql.DB
}

func NewPostgresEvaluations(db *sql.DB) *PostgresEvaluations {
	return &PostgresEvaluations{db: db}
}

func (s *PostgresEvaluations) Append(ctx context.Context, record models.EvaluationRecord) error {
	facts, err := json.Marshal(record.Facts)
	if err != nil {
		return fmt.Errorf("marshal fact snapshot: %w", err)
	}
	var assertionID any
	if record.AssertionID != nil {
		assertionID = record.AssertionID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, rule_version_id, learner_id, matched, issuance_status, assertion_id, facts, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID,
		record.RuleVersionID.String(),
		record.LearnerID.String(),
		record.Matched,
		string(record.Issuance),
		assertionID,
		facts,
		record.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

func (s *PostgresEvaluations) ListByVersion(ctx context.Context, versionID id.RuleVersionID) ([]models.EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_version_id, learner_id, matched, issuance_status, assertion_id, facts, evaluated_at
		FROM evaluations WHERE rule_version_id = $1 ORDER BY evaluated_at
	`, versionID.String())
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.EvaluationRecord
	for rows.Next() {
		var (
			record                        models.EvaluationRecord
			rawVersion, rawLearner, state string
			rawAssertion                  sql.NullString
			facts                         []byte
		)
		if err := rows.Scan(&record.ID, &rawVersion, &rawLearner, &record.Matched, &state, &rawAssertion, &facts, &record.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if record.RuleVersionID, err = id.ParseRuleVersionID(rawVersion); err != nil {
			return nil, err
		}
		if record.LearnerID, err = id.ParseLearnerID(rawLearner); err != nil {
			return nil, err
		}
		record.Issuance = models.IssuanceStatus(state)
		if rawAssertion.Valid {
			assertionID, err := id.ParseAssertionID(rawAssertion.String)
			if err != nil {
				return nil, err
			}
			record.AssertionID = &assertionID
		}
		if err := json.Unmarshal(facts, &record.Facts); err != nil {
			return nil, fmt.Errorf("unmarshal fact snapshot: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanVersion(row interface{ Scan(dest ...any) error }) (models.RuleVersion, error) {
	var (
		version                  models.RuleVersion
		rawID, rawRule, rawState string
		definition               []byte
		rawCreatedBy             string
		approvedBy, activatedBy  sql.NullString
	)
	err := row.Scan(&rawID, &rawRule, &version.VersionNumber, &rawState, &definition, &rawCreatedBy, &approvedBy, &activatedBy, &version.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RuleVersion{}, ErrNotFound
		}
		return models.RuleVersion{}, fmt.Errorf("scan rule version: %w", err)
	}
	if version.ID, err = id.ParseRuleVersionID(rawID); err != nil {
		return models.RuleVersion{}, err
	}
	if version.RuleID, err = id.ParseRuleID(rawRule); err != nil {
		return models.RuleVersion{}, err
	}
	version.Status = models.VersionStatus(rawState)
	if err := json.Unmarshal(definition, &version.Definition); err != nil {
		return models.RuleVersion{}, fmt.Errorf("unmarshal rule definition: %w", err)
	}
	if version.CreatedBy, err = id.ParseUserID(rawCreatedBy); err != nil {
		return models.RuleVersion{}, err
	}
	if approvedBy.Valid {
		approver, err := id.ParseUserID(approvedBy.String)
		if err != nil {
			return models.RuleVersion{}, err
		}
		version.ApprovedBy = &approver
	}
	if activatedBy.Valid {
		activator, err := id.ParseUserID(activatedBy.String)
		if err != nil {
			return models.RuleVersion{}, err
		}
		version.ActivatedBy = &activator
	}
	return version, nil
}
