package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

type userRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	Name           string    `gorm:"not null"`
	Email          string    `gorm:"uniqueIndex;not null"`
	PasswordHash   string    `gorm:"not null"`
	TelegramChatID *int64    `gorm:"index"`
	CreatedAt      time.Time `gorm:"index;not null"`
}

func (userRow) TableName() string { return "users" }

type codeRow struct {
	ID        int64             `gorm:"primaryKey;autoIncrement"`
	UserID    int64             `gorm:"index;not null"`
	Purpose   enums.CodePurpose `gorm:"size:32;index:idx_codes_purpose_value;not null"`
	Value     string            `gorm:"size:32;index:idx_codes_purpose_value;not null"`
	ExpiresAt time.Time         `gorm:"index;not null"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (codeRow) TableName() string { return "codes" }

// Store keeps accounts in a single SQLite file.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer keeps SQLite from returning "database is locked"
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &codeRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	row := userRow{
		Name:           user.Name,
		Email:          user.Email,
		PasswordHash:   user.PasswordHash,
		TelegramChatID: user.TelegramChatID,
		CreatedAt:      user.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.User{}, accounts.ErrConflict
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		return model.User{}, notFound(err, "find user by email")
	}
	return row.toModel(), nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return model.User{}, notFound(err, "find user by id")
	}
	return row.toModel(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

func (s *Store) SetTelegramChatID(ctx context.Context, userID, chatID int64) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Update("telegram_chat_id", chatID)
	if res.Error != nil {
		return fmt.Errorf("update telegram chat id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return accounts.ErrNotFound
	}
	return nil
}

func (s *Store) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Update("password_hash", hash)
	if res.Error != nil {
		return fmt.Errorf("update password hash: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return accounts.ErrNotFound
	}
	return nil
}

func (s *Store) IssueCode(ctx context.Context, code model.Code) (model.Code, error) {
	row := codeRow{
		UserID:    code.UserID,
		Purpose:   code.Purpose,
		Value:     code.Value,
		ExpiresAt: code.ExpiresAt.UTC(),
		CreatedAt: code.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owners int64
		if err := tx.Model(&userRow{}).Where("id = ?", code.UserID).Count(&owners).Error; err != nil {
			return fmt.Errorf("check code owner: %w", err)
		}
		if owners == 0 {
			return accounts.ErrNotFound
		}
		if err := tx.Model(&codeRow{}).
			Where("user_id = ? AND purpose = ? AND used_at IS NULL", code.UserID, code.Purpose).
			Update("used_at", row.CreatedAt).Error; err != nil {
			return fmt.Errorf("supersede codes: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert code: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Code{}, err
	}
	return row.toModel(), nil
}

func (s *Store) FindCode(ctx context.Context, query model.CodeQuery) (model.Code, error) {
	q := s.db.WithContext(ctx).Where("purpose = ? AND value = ?", query.Purpose, query.Value)
	if query.UserID != 0 {
		q = q.Where("user_id = ?", query.UserID)
	}

	var row codeRow
	if err := q.Order("created_at DESC").Order("id DESC").First(&row).Error; err != nil {
		return model.Code{}, notFound(err, "find code")
	}
	return row.toModel(), nil
}

func (s *Store) ConsumeCode(ctx context.Context, codeID int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&codeRow{}).
		Where("id = ? AND used_at IS NULL", codeID).
		Update("used_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("consume code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&codeRow{}).Where("id = ?", codeID).Count(&count).Error; err != nil {
			return fmt.Errorf("check code: %w", err)
		}
		if count == 0 {
			return accounts.ErrNotFound
		}
		return accounts.ErrCodeUsed
	}
	return nil
}

func (s *Store) LinkTelegram(ctx context.Context, codeID, chatID int64, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var code codeRow
		if err := tx.First(&code, codeID).Error; err != nil {
			return notFound(err, "find link code")
		}
		res := tx.Model(&codeRow{}).
			Where("id = ? AND used_at IS NULL", codeID).
			Update("used_at", at.UTC())
		if res.Error != nil {
			return fmt.Errorf("consume link code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return accounts.ErrCodeUsed
		}

		res = tx.Model(&userRow{}).Where("id = ?", code.UserID).Update("telegram_chat_id", chatID)
		if res.Error != nil {
			return fmt.Errorf("update telegram chat id: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return accounts.ErrNotFound
		}
		return nil
	})
}

func (s *Store) HasActiveCode(ctx context.Context, purpose enums.CodePurpose, value string, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&codeRow{}).
		Where("purpose = ? AND value = ? AND used_at IS NULL AND expires_at > ?", purpose, value, now.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count active codes: %w", err)
	}
	return count > 0, nil
}

// DeleteCodesBefore binds cutoff in UTC. Timestamps are stored as text, so a
// zoned cutoff would compare wrongly.
func (s *Store) DeleteCodesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	res := s.db.WithContext(ctx).
		Where("expires_at < ? OR (used_at IS NOT NULL AND used_at < ?)", cutoff, cutoff).
		Delete(&codeRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete stale codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:             r.ID,
		Name:           r.Name,
		Email:          r.Email,
		PasswordHash:   r.PasswordHash,
		TelegramChatID: r.TelegramChatID,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (r codeRow) toModel() model.Code {
	code := model.Code{
		ID:        r.ID,
		UserID:    r.UserID,
		Purpose:   r.Purpose,
		Value:     r.Value,
		ExpiresAt: r.ExpiresAt.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.UsedAt != nil {
		at := r.UsedAt.UTC()
		code.UsedAt = &at
	}
	return code
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return accounts.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
