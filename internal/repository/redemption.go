package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
)

// ListRewards возвращает каталог наград без удалённых позиций.
func (r *PostgresRepository) ListRewards(ctx context.Context) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, points_cost, stock, category, is_deleted
		 FROM rewards
		 WHERE NOT is_deleted
		 ORDER BY points_cost`,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		if err := rows.Scan(&rw.ID, &rw.Name, &rw.PointsCost, &rw.Stock, &rw.Category, &rw.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateRedemption обменивает баллы пользователя на награду одной транзакцией:
// остаток на складе, баланс, запись об обмене и запись журнала изменяются
// вместе или не изменяются вовсе. Остаток и баланс перечитываются под
// блокировкой строк, чтобы параллельный обмен последней единицы проиграл
// с ErrOutOfStock, а не продал её дважды.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, userID, rewardID int64) (*model.Redemption, error) {
	var redemption *model.Redemption

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var (
			stock int64
			cost  int64
			name  string
		)
		err := tx.QueryRow(ctx,
			`SELECT stock, points_cost, name
			 FROM rewards
			 WHERE id = $1 AND NOT is_deleted
			 FOR UPDATE`,
			rewardID,
		).Scan(&stock, &cost, &name)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRewardNotFound
			}
			return fmt.Errorf("lock reward: %w", err)
		}

		if stock <= 0 {
			return ErrOutOfStock
		}

		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT points_balance FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if balance < cost {
			return ErrInsufficientPoints
		}

		_, err = tx.Exec(ctx,
			`UPDATE rewards SET stock = stock - 1 WHERE id = $1`,
			rewardID,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET points_balance = points_balance - $2 WHERE id = $1`,
			userID, cost,
		)
		if err != nil {
			return fmt.Errorf("decrement balance: %w", err)
		}

		var rd model.Redemption
		var status string
		err = tx.QueryRow(ctx,
			`INSERT INTO redemptions (user_id, reward_id)
			 VALUES ($1, $2)
			 RETURNING id, user_id, reward_id, status, redeemed_at`,
			userID, rewardID,
		).Scan(&rd.ID, &rd.UserID, &rd.RewardID, &status, &rd.RedeemedAt)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		rd.Status = model.RedemptionStatus(status)

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, kind, reason, reference_id, reference_kind)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, -cost, string(model.LedgerDebit), "reward redeemed: "+name, rd.ID, model.RefRedemption,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		redemption = &rd
		return nil
	})
	if err != nil {
		return nil, err
	}

	return redemption, nil
}
