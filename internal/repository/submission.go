package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
)

// CreateSubmission сохраняет новую заявку в состоянии pending.
// Совпадение отпечатка доказательства с любой существующей заявкой
// транслируется в ErrDuplicateSubmission.
func (r *PostgresRepository) CreateSubmission(ctx context.Context, s *model.Submission) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (student_id, title, category, description, evidence_url, evidence_image, evidence_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		s.StudentID, s.Title, s.Category, s.Description, s.EvidenceURL, s.EvidenceImage, s.EvidenceHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateSubmission
		}
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	return id, nil
}

const submissionColumns = `id, student_id, title, category, description, evidence_url, evidence_image,
	evidence_hash, status, points_awarded, verified_by, rejection_reason, created_at, updated_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var s model.Submission
	var status string
	err := row.Scan(&s.ID, &s.StudentID, &s.Title, &s.Category, &s.Description, &s.EvidenceURL, &s.EvidenceImage,
		&s.EvidenceHash, &status, &s.PointsAwarded, &s.VerifiedBy, &s.RejectionReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	s.Status = model.SubmissionStatus(status)
	return &s, nil
}

// GetSubmission возвращает заявку по идентификатору.
func (r *PostgresRepository) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`,
		id,
	)
	return scanSubmission(row)
}

// UpdateSubmission перезаписывает редактируемые поля заявки и возвращает её
// в состояние pending. Допустимость редактирования проверяется внутри
// транзакции по текущему статусу строки.
func (r *PostgresRepository) UpdateSubmission(ctx context.Context, s *model.Submission) (*model.Submission, error) {
	var updated *model.Submission

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM submissions WHERE id = $1 FOR UPDATE`,
			s.ID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSubmissionNotFound
			}
			return fmt.Errorf("lock submission: %w", err)
		}

		switch model.SubmissionStatus(status) {
		case model.SubmissionPending, model.SubmissionRejected, model.SubmissionResubmit:
		default:
			return ErrSubmissionLocked
		}

		row := tx.QueryRow(ctx,
			`UPDATE submissions
			 SET title = $2, category = $3, description = $4, evidence_url = $5, evidence_image = $6,
			     evidence_hash = $7, status = 'pending', rejection_reason = '', updated_at = now()
			 WHERE id = $1
			 RETURNING `+submissionColumns,
			s.ID, s.Title, s.Category, s.Description, s.EvidenceURL, s.EvidenceImage, s.EvidenceHash,
		)

		updated, err = scanSubmission(row)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateSubmission
			}
			return err
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSubmission
		}
		return nil, err
	}

	return updated, nil
}

// ApproveSubmission утверждает заявку, начисляет баллы и публикует запись
// о достижении одной транзакцией. Размер начисления берётся из переданного
// override, иначе из правила категории, иначе defaultPoints.
func (r *PostgresRepository) ApproveSubmission(ctx context.Context, id, verifierID int64, override *int64, defaultPoints int64) (*model.Submission, error) {
	var approved *model.Submission

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`,
			id,
		)
		s, err := scanSubmission(row)
		if err != nil {
			return err
		}

		if s.Status != model.SubmissionPending {
			return ErrAlreadyProcessed
		}

		points := defaultPoints
		if override != nil && *override > 0 {
			points = *override
		} else {
			var rulePoints int64
			err := tx.QueryRow(ctx,
				`SELECT points FROM point_rules WHERE category = $1`,
				s.Category,
			).Scan(&rulePoints)
			switch {
			case err == nil:
				points = rulePoints
			case errors.Is(err, pgx.ErrNoRows):
				// Правила для категории нет, остаётся настроенный дефолт.
			default:
				return fmt.Errorf("select point rule: %w", err)
			}
		}

		row = tx.QueryRow(ctx,
			`UPDATE submissions
			 SET status = 'approved', points_awarded = $2, verified_by = $3, updated_at = now()
			 WHERE id = $1
			 RETURNING `+submissionColumns,
			id, points, verifierID,
		)
		approved, err = scanSubmission(row)
		if err != nil {
			return err
		}

		if _, err := awardPointsTx(ctx, tx, s.StudentID, points, "achievement approved: "+s.Title, s.ID, model.RefSubmission); err != nil {
			return err
		}

		// Публикация идемпотентна: на одну заявку не более одной записи.
		_, err = tx.Exec(ctx,
			`INSERT INTO achiever_posts (submission_id, user_id, title, category)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (submission_id) DO NOTHING`,
			s.ID, s.StudentID, s.Title, s.Category,
		)
		if err != nil {
			return fmt.Errorf("insert achiever post: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return approved, nil
}

// RejectSubmission отклоняет заявку с указанием причины. Баллы не начисляются.
func (r *PostgresRepository) RejectSubmission(ctx context.Context, id, verifierID int64, reason string) (*model.Submission, error) {
	var rejected *model.Submission

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM submissions WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSubmissionNotFound
			}
			return fmt.Errorf("lock submission: %w", err)
		}

		if model.SubmissionStatus(status) != model.SubmissionPending {
			return ErrAlreadyProcessed
		}

		row := tx.QueryRow(ctx,
			`UPDATE submissions
			 SET status = 'rejected', rejection_reason = $2, verified_by = $3, updated_at = now()
			 WHERE id = $1
			 RETURNING `+submissionColumns,
			id, reason, verifierID,
		)
		rejected, err = scanSubmission(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rejected, nil
}
