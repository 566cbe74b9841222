package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
)

// reactionColumn отображает тип реакции в имя столбца-счётчика.
// Карта служит и белым списком для подстановки имени в запрос.
var reactionColumn = map[model.ReactionType]string{
	model.ReactionR1: "reactions_r1",
	model.ReactionR2: "reactions_r2",
	model.ReactionR3: "reactions_r3",
	model.ReactionR4: "reactions_r4",
	model.ReactionR5: "reactions_r5",
}

// GetAchieverPost возвращает публикацию достижения со счётчиками реакций.
func (r *PostgresRepository) GetAchieverPost(ctx context.Context, postID int64) (*model.AchieverPost, error) {
	return r.getAchieverPost(ctx, `WHERE id = $1`, postID)
}

// GetAchieverPostBySubmission возвращает публикацию по идентификатору заявки.
func (r *PostgresRepository) GetAchieverPostBySubmission(ctx context.Context, submissionID int64) (*model.AchieverPost, error) {
	return r.getAchieverPost(ctx, `WHERE submission_id = $1`, submissionID)
}

func (r *PostgresRepository) getAchieverPost(ctx context.Context, where string, arg any) (*model.AchieverPost, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, submission_id, user_id, title, category, published_at,
		        reactions_r1, reactions_r2, reactions_r3, reactions_r4, reactions_r5
		 FROM achiever_posts `+where,
		arg,
	)

	var p model.AchieverPost
	counts := make(model.ReactionCounts, len(reactionColumn))
	var r1, r2, r3, r4, r5 int64
	err := row.Scan(&p.ID, &p.SubmissionID, &p.UserID, &p.Title, &p.Category, &p.PublishedAt,
		&r1, &r2, &r3, &r4, &r5)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("get achiever post: %w", err)
	}

	counts[model.ReactionR1] = r1
	counts[model.ReactionR2] = r2
	counts[model.ReactionR3] = r3
	counts[model.ReactionR4] = r4
	counts[model.ReactionR5] = r5
	p.Reactions = counts

	return &p, nil
}

// SetReaction устанавливает, снимает или переключает реакцию пользователя
// на публикацию. На пару (пользователь, публикация) существует не более
// одной реакции; проигравший гонку за первую реакцию получает
// ErrAlreadyReacted. Счётчики публикации меняются в той же транзакции.
func (r *PostgresRepository) SetReaction(ctx context.Context, userID, postID int64, t model.ReactionType) (*model.ReactionResult, error) {
	newCol, ok := reactionColumn[t]
	if !ok {
		return nil, fmt.Errorf("unknown reaction type: %s", t)
	}

	var result *model.ReactionResult

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM achiever_posts WHERE id = $1)`,
			postID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check post: %w", err)
		}
		if !exists {
			return ErrPostNotFound
		}

		var current string
		err = tx.QueryRow(ctx,
			`SELECT type FROM reactions WHERE user_id = $1 AND post_id = $2 FOR UPDATE`,
			userID, postID,
		).Scan(&current)

		var userReaction *model.ReactionType

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Первая реакция: проигравший гонку создания упирается
			// в уникальный ключ (user_id, post_id).
			_, err = tx.Exec(ctx,
				`INSERT INTO reactions (user_id, post_id, type) VALUES ($1, $2, $3)`,
				userID, postID, string(t),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrAlreadyReacted
				}
				return fmt.Errorf("insert reaction: %w", err)
			}

			_, err = tx.Exec(ctx,
				fmt.Sprintf(`UPDATE achiever_posts SET %s = %s + 1 WHERE id = $1`, newCol, newCol),
				postID,
			)
			if err != nil {
				return fmt.Errorf("increment counter: %w", err)
			}
			userReaction = &t

		case err != nil:
			return fmt.Errorf("select reaction: %w", err)

		case model.ReactionType(current) == t:
			// Повтор того же типа снимает реакцию.
			_, err = tx.Exec(ctx,
				`DELETE FROM reactions WHERE user_id = $1 AND post_id = $2`,
				userID, postID,
			)
			if err != nil {
				return fmt.Errorf("delete reaction: %w", err)
			}

			_, err = tx.Exec(ctx,
				fmt.Sprintf(`UPDATE achiever_posts SET %s = %s - 1 WHERE id = $1`, newCol, newCol),
				postID,
			)
			if err != nil {
				return fmt.Errorf("decrement counter: %w", err)
			}

		default:
			// Переключение: старый счётчик вниз, новый вверх одним запросом.
			oldCol := reactionColumn[model.ReactionType(current)]
			if oldCol == "" {
				return fmt.Errorf("unknown stored reaction type: %s", current)
			}

			_, err = tx.Exec(ctx,
				`UPDATE reactions SET type = $3 WHERE user_id = $1 AND post_id = $2`,
				userID, postID, string(t),
			)
			if err != nil {
				return fmt.Errorf("update reaction: %w", err)
			}

			_, err = tx.Exec(ctx,
				fmt.Sprintf(`UPDATE achiever_posts SET %s = %s - 1, %s = %s + 1 WHERE id = $1`,
					oldCol, oldCol, newCol, newCol),
				postID,
			)
			if err != nil {
				return fmt.Errorf("switch counters: %w", err)
			}
			userReaction = &t
		}

		counts := make(model.ReactionCounts, len(reactionColumn))
		var r1, r2, r3, r4, r5 int64
		err = tx.QueryRow(ctx,
			`SELECT reactions_r1, reactions_r2, reactions_r3, reactions_r4, reactions_r5
			 FROM achiever_posts WHERE id = $1`,
			postID,
		).Scan(&r1, &r2, &r3, &r4, &r5)
		if err != nil {
			return fmt.Errorf("select counters: %w", err)
		}

		counts[model.ReactionR1] = r1
		counts[model.ReactionR2] = r2
		counts[model.ReactionR3] = r3
		counts[model.ReactionR4] = r4
		counts[model.ReactionR5] = r5

		result = &model.ReactionResult{
			Counts:       counts,
			UserReaction: userReaction,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
