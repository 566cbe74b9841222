package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/campus-rewards-system/internal/badge"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
)

// AwardPoints начисляет баллы пользователю и добавляет запись в журнал.
// Повторный вызов с той же ссылкой (reference_id, reference_kind) не имеет эффекта.
func (r *PostgresRepository) AwardPoints(ctx context.Context, userID, amount int64, reason string, refID int64, refKind string) error {
	return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := awardPointsTx(ctx, tx, userID, amount, reason, refID, refKind)
		return err
	})
}

// awardPointsTx выполняет идемпотентное начисление внутри открытой транзакции.
// Возвращает false, если запись журнала с такой ссылкой уже существует.
func awardPointsTx(ctx context.Context, tx pgx.Tx, userID, amount int64, reason string, refID int64, refKind string) (bool, error) {
	// Вставка записи журнала идёт первой: частичный уникальный индекс
	// по ссылке превращает повторное начисление в no-op до изменения счёта.
	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (user_id, amount, kind, reason, reference_id, reference_kind)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, reference_id, reference_kind) WHERE reference_id IS NOT NULL DO NOTHING`,
		userID, amount, string(model.LedgerCredit), reason, refID, refKind,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	cmdTag, err = tx.Exec(ctx,
		`UPDATE users
		 SET points_balance = points_balance + $2, lifetime_points = lifetime_points + $2
		 WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, ErrUserNotFound
	}

	if err := grantBadgesTx(ctx, tx, userID); err != nil {
		return false, err
	}

	return true, nil
}

// grantBadgesTx добавляет пользователю значки, положенные по накопленной сумме баллов.
func grantBadgesTx(ctx context.Context, tx pgx.Tx, userID int64) error {
	var lifetime int64
	err := tx.QueryRow(ctx,
		`SELECT lifetime_points FROM users WHERE id = $1`,
		userID,
	).Scan(&lifetime)
	if err != nil {
		return fmt.Errorf("select lifetime points: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, name, points_required FROM badges ORDER BY points_required`,
	)
	if err != nil {
		return fmt.Errorf("select badges: %w", err)
	}

	var catalog []model.Badge
	for rows.Next() {
		var b model.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.PointsRequired); err != nil {
			rows.Close()
			return fmt.Errorf("scan badge: %w", err)
		}
		catalog = append(catalog, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	rows, err = tx.Query(ctx,
		`SELECT badge_id FROM user_badges WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("select user badges: %w", err)
	}

	var earned []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan user badge: %w", err)
		}
		earned = append(earned, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for _, badgeID := range badge.Evaluate(lifetime, catalog, earned) {
		_, err := tx.Exec(ctx,
			`INSERT INTO user_badges (user_id, badge_id) VALUES ($1, $2)
			 ON CONFLICT (user_id, badge_id) DO NOTHING`,
			userID, badgeID,
		)
		if err != nil {
			return fmt.Errorf("insert user badge: %w", err)
		}
	}

	return nil
}

// GetLedgerByUser возвращает историю движений баллов пользователя.
func (r *PostgresRepository) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, reason, reference_id, reference_kind, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &kind, &e.Reason, &e.ReferenceID, &e.ReferenceKind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.LedgerKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CheckAndReset обнуляет счёт пользователя, если начался новый семестр,
// окно которого покрывает момент now. Вызов вне окна семестра или после
// уже выполненного сброса не имеет эффекта.
func (r *PostgresRepository) CheckAndReset(ctx context.Context, userID int64, now time.Time) error {
	return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var (
			college   string
			batch     string
			balance   int64
			lastReset *time.Time
		)
		err := tx.QueryRow(ctx,
			`SELECT college, batch, points_balance, last_points_reset_at
			 FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&college, &batch, &balance, &lastReset)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		var (
			semester  string
			startDate time.Time
		)
		err = tx.QueryRow(ctx,
			`SELECT semester, start_date
			 FROM semester_configs
			 WHERE college_name = $1 AND batch = $2 AND start_date <= $3 AND end_date >= $3
			 ORDER BY start_date DESC
			 LIMIT 1`,
			college, batch, now,
		).Scan(&semester, &startDate)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select semester: %w", err)
		}

		if lastReset != nil && !lastReset.Before(startDate) {
			return nil
		}

		if balance != 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO ledger_entries (user_id, amount, kind, reason)
				 VALUES ($1, $2, $3, $4)`,
				userID, -balance, string(model.LedgerReset), "semester reset: "+semester,
			)
			if err != nil {
				return fmt.Errorf("insert reset entry: %w", err)
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET points_balance = 0, last_points_reset_at = $2 WHERE id = $1`,
			userID, now,
		)
		if err != nil {
			return fmt.Errorf("reset balance: %w", err)
		}

		return nil
	})
}
