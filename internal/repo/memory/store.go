package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

// Store keeps users and codes in process memory. State is lost on restart.
type Store struct {
	mu         sync.Mutex
	users      []model.User
	codes      []model.Code
	nextUserID int64
	nextCodeID int64
}

func NewStore() *Store {
	return &Store{
		nextUserID: 1,
		nextCodeID: 1,
	}
}

func (s *Store) CreateUser(_ context.Context, user model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return model.User{}, accounts.ErrConflict
		}
	}

	user.ID = s.nextUserID
	s.nextUserID++
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.TelegramChatID = copyInt64(user.TelegramChatID)
	s.users = append(s.users, user)

	return cloneUser(user), nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return model.User{}, accounts.ErrNotFound
}

func (s *Store) UserByID(_ context.Context, id int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.userIndex(id); i >= 0 {
		return cloneUser(s.users[i]), nil
	}
	return model.User{}, accounts.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, cloneUser(user))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) SetTelegramChatID(_ context.Context, userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndex(userID)
	if i < 0 {
		return accounts.ErrNotFound
	}
	s.users[i].TelegramChatID = &chatID
	return nil
}

func (s *Store) SetPasswordHash(_ context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndex(userID)
	if i < 0 {
		return accounts.ErrNotFound
	}
	s.users[i].PasswordHash = hash
	return nil
}

func (s *Store) IssueCode(_ context.Context, code model.Code) (model.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userIndex(code.UserID) < 0 {
		return model.Code{}, accounts.ErrNotFound
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	for i := range s.codes {
		existing := &s.codes[i]
		if existing.UserID == code.UserID && existing.Purpose == code.Purpose && existing.UsedAt == nil {
			at := code.CreatedAt
			existing.UsedAt = &at
		}
	}

	code.ID = s.nextCodeID
	s.nextCodeID++
	code.UsedAt = nil
	s.codes = append(s.codes, code)

	return code, nil
}

func (s *Store) FindCode(_ context.Context, query model.CodeQuery) (model.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := -1
	for i, code := range s.codes {
		if code.Purpose != query.Purpose || code.Value != query.Value {
			continue
		}
		if query.UserID != 0 && code.UserID != query.UserID {
			continue
		}
		if found < 0 || !code.CreatedAt.Before(s.codes[found].CreatedAt) {
			found = i
		}
	}
	if found < 0 {
		return model.Code{}, accounts.ErrNotFound
	}
	return cloneCode(s.codes[found]), nil
}

func (s *Store) ConsumeCode(_ context.Context, codeID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.codes {
		if s.codes[i].ID != codeID {
			continue
		}
		if s.codes[i].UsedAt != nil {
			return accounts.ErrCodeUsed
		}
		s.codes[i].UsedAt = &at
		return nil
	}
	return accounts.ErrNotFound
}

func (s *Store) LinkTelegram(_ context.Context, codeID, chatID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.codes {
		if s.codes[i].ID != codeID {
			continue
		}
		if s.codes[i].UsedAt != nil {
			return accounts.ErrCodeUsed
		}
		owner := s.userIndex(s.codes[i].UserID)
		if owner < 0 {
			return accounts.ErrNotFound
		}
		s.codes[i].UsedAt = &at
		s.users[owner].TelegramChatID = &chatID
		return nil
	}
	return accounts.ErrNotFound
}

func (s *Store) HasActiveCode(_ context.Context, purpose enums.CodePurpose, value string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.codes {
		if code.Purpose == purpose && code.Value == value && code.Active(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteCodesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.codes[:0]
	var deleted int64
	for _, code := range s.codes {
		stale := code.ExpiresAt.Before(cutoff) || (code.UsedAt != nil && code.UsedAt.Before(cutoff))
		if stale {
			deleted++
			continue
		}
		kept = append(kept, code)
	}
	s.codes = kept
	return deleted, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) userIndex(id int64) int {
	for i, user := range s.users {
		if user.ID == id {
			return i
		}
	}
	return -1
}

func cloneUser(user model.User) model.User {
	user.TelegramChatID = copyInt64(user.TelegramChatID)
	return user
}

func cloneCode(code model.Code) model.Code {
	if code.UsedAt != nil {
		at := *code.UsedAt
		code.UsedAt = &at
	}
	return code
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}
