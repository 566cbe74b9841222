package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
)

// CreateUser создаёт нового пользователя с нулевым счётом баллов.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role, college, batch string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role, college, batch)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		login, passwordHash, string(role), college, batch,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.getUser(ctx, `WHERE login = $1`, login)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, college, batch,
		        points_balance, lifetime_points, last_points_reset_at, created_at
		 FROM users `+where,
		arg,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.College, &u.Batch,
		&u.PointsBalance, &u.LifetimePoints, &u.LastPointsReset, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// GetBalance возвращает счёт пользователя вместе с набором полученных значков.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	var b model.Balance
	err := r.pool.QueryRow(ctx,
		`SELECT points_balance, lifetime_points FROM users WHERE id = $1`,
		userID,
	).Scan(&b.Current, &b.Lifetime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT b.name
		 FROM user_badges ub
		 JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = $1
		 ORDER BY b.points_required`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		b.Badges = append(b.Badges, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &b, nil
}

// RegisterDeviceToken привязывает токен устройства к пользователю.
// Повторная регистрация того же токена не имеет эффекта.
func (r *PostgresRepository) RegisterDeviceToken(ctx context.Context, userID int64, token string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO device_tokens (user_id, token)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, token) DO NOTHING`,
		userID, token,
	)
	if err != nil {
		return fmt.Errorf("insert device token: %w", err)
	}
	return nil
}

// GetDeviceTokens возвращает токены устройств пользователя для push-уведомлений.
func (r *PostgresRepository) GetDeviceTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT token FROM device_tokens WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tokens, nil
}
