package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

const codeColumns = `id, user_id, purpose, value, expires_at, used_at, created_at`

type CodeRepo struct {
	pool *pgxpool.Pool
}

func NewCodeRepo(pool *pgxpool.Pool) *CodeRepo {
	return &CodeRepo{pool: pool}
}

func (r *CodeRepo) Issue(ctx context.Context, code model.Code) (model.Code, error) {
	var issued model.Code
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, code.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("check code owner: %w", err)
		}
		if !exists {
			return accounts.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
UPDATE account_codes
SET used_at = COALESCE($3, NOW())
WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
`, code.UserID, string(code.Purpose), nullTime(code.CreatedAt)); err != nil {
			return fmt.Errorf("supersede codes: %w", err)
		}

		row := tx.QueryRow(ctx, `
INSERT INTO account_codes (user_id, purpose, value, expires_at, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
RETURNING `+codeColumns,
			code.UserID, string(code.Purpose), code.Value, code.ExpiresAt, nullTime(code.CreatedAt))

		var err error
		issued, err = scanCode(row)
		if err != nil {
			return fmt.Errorf("insert code: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Code{}, err
	}
	return issued, nil
}

func (r *CodeRepo) Find(ctx context.Context, query model.CodeQuery) (model.Code, error) {
	if r.pool == nil {
		return model.Code{}, fmt.Errorf("postgres pool is nil")
	}

	code, err := scanCode(r.pool.QueryRow(ctx, `
SELECT `+codeColumns+`
FROM account_codes
WHERE purpose = $1 AND value = $2 AND ($3::bigint = 0 OR user_id = $3::bigint)
ORDER BY created_at DESC, id DESC
LIMIT 1
`, string(query.Purpose), query.Value, query.UserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Code{}, accounts.ErrNotFound
		}
		return model.Code{}, fmt.Errorf("find code: %w", err)
	}
	return code, nil
}

func (r *CodeRepo) Consume(ctx context.Context, codeID int64, at time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE account_codes
SET used_at = $2
WHERE id = $1 AND used_at IS NULL
`, codeID, at)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account_codes WHERE id = $1)`, codeID).Scan(&exists); err != nil {
		return fmt.Errorf("check code: %w", err)
	}
	if !exists {
		return accounts.ErrNotFound
	}
	return accounts.ErrCodeUsed
}

// ConsumeForLink marks the code used and sets its owner's chat id in one
// transaction.
func (r *CodeRepo) ConsumeForLink(ctx context.Context, codeID, chatID int64, at time.Time) error {
	return WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var userID int64
		err := tx.QueryRow(ctx, `
UPDATE account_codes
SET used_at = $2
WHERE id = $1 AND used_at IS NULL
RETURNING user_id
`, codeID, at).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account_codes WHERE id = $1)`, codeID).Scan(&exists); err != nil {
				return fmt.Errorf("check code: %w", err)
			}
			if !exists {
				return accounts.ErrNotFound
			}
			return accounts.ErrCodeUsed
		}
		if err != nil {
			return fmt.Errorf("consume link code: %w", err)
		}

		tag, err := tx.Exec(ctx, `UPDATE users SET telegram_chat_id = $2 WHERE id = $1`, userID, chatID)
		if err != nil {
			return fmt.Errorf("set telegram chat id: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return accounts.ErrNotFound
		}
		return nil
	})
}

func (r *CodeRepo) HasActive(ctx context.Context, purpose enums.CodePurpose, value string, now time.Time) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM account_codes
	WHERE purpose = $1 AND value = $2 AND used_at IS NULL AND expires_at > $3
)
`, string(purpose), value, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active code: %w", err)
	}
	return exists, nil
}

func (r *CodeRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM account_codes
WHERE expires_at < $1 OR (used_at IS NOT NULL AND used_at < $1)
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCode(row pgx.Row) (model.Code, error) {
	var (
		code    model.Code
		purpose string
	)
	if err := row.Scan(
		&code.ID,
		&code.UserID,
		&purpose,
		&code.Value,
		&code.ExpiresAt,
		&code.UsedAt,
		&code.CreatedAt,
	); err != nil {
		return model.Code{}, err
	}
	code.Purpose = enums.CodePurpose(purpose)
	code.ExpiresAt = code.ExpiresAt.UTC()
	code.CreatedAt = code.CreatedAt.UTC()
	if code.UsedAt != nil {
		at := code.UsedAt.UTC()
		code.UsedAt = &at
	}
	return code, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
