package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
)

// Store adapts the user and code repos to accounts.Store.
type Store struct {
	pool  *pgxpool.Pool
	users *UserRepo
	codes *CodeRepo
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:  pool,
		users: NewUserRepo(pool),
		codes: NewCodeRepo(pool),
	}
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	return s.users.Create(ctx, user)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.users.FindByEmail(ctx, email)
}

func (s *Store) UserByID(ctx context.Context, id int64) (model.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

func (s *Store) SetTelegramChatID(ctx context.Context, userID, chatID int64) error {
	return s.users.SetTelegramChatID(ctx, userID, chatID)
}

func (s *Store) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	return s.users.SetPasswordHash(ctx, userID, hash)
}

func (s *Store) IssueCode(ctx context.Context, code model.Code) (model.Code, error) {
	return s.codes.Issue(ctx, code)
}

func (s *Store) FindCode(ctx context.Context, query model.CodeQuery) (model.Code, error) {
	return s.codes.Find(ctx, query)
}

func (s *Store) ConsumeCode(ctx context.Context, codeID int64, at time.Time) error {
	return s.codes.Consume(ctx, codeID, at)
}

func (s *Store) LinkTelegram(ctx context.Context, codeID, chatID int64, at time.Time) error {
	return s.codes.ConsumeForLink(ctx, codeID, chatID, at)
}

func (s *Store) HasActiveCode(ctx context.Context, purpose enums.CodePurpose, value string, now time.Time) (bool, error) {
	return s.codes.HasActive(ctx, purpose, value, now)
}

func (s *Store) DeleteCodesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.codes.DeleteBefore(ctx, cutoff)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
