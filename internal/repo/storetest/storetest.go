// Package storetest holds behaviour checks shared by every accounts.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

// Run executes the store checks. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) accounts.Store) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, store accounts.Store)
	}{
		{"CreateUserRejectsDuplicateEmail", testDuplicateEmail},
		{"UserLookups", testUserLookups},
		{"ListUsersNewestFirst", testListUsersOrder},
		{"UpdateMissingUser", testUpdateMissingUser},
		{"IssueCodeSupersedesUnused", testIssueSupersedes},
		{"IssueCodeRequiresOwner", testIssueRequiresOwner},
		{"FindCodeScopesByUser", testFindScopesByUser},
		{"ConsumeCodeOnce", testConsumeOnce},
		{"HasActiveCode", testHasActive},
		{"DeleteCodesBefore", testDeleteBefore},
		{"ZonedTimesMatchUTC", testZonedTimes},
		{"LinkTelegramConsumesAndBinds", testLinkTelegram},
		{"ConcurrentCreateUserOneWinner", testConcurrentCreateUser},
		{"ConcurrentConsumeOneWinner", testConcurrentConsume},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			tc.fn(t, store)
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createUser(t *testing.T, store accounts.Store, email string, at time.Time) model.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), model.User{
		Name:         "user " + email,
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    at,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

func issue(t *testing.T, store accounts.Store, userID int64, purpose enums.CodePurpose, value string, at time.Time) model.Code {
	t.Helper()
	code, err := store.IssueCode(context.Background(), model.Code{
		UserID:    userID,
		Purpose:   purpose,
		Value:     value,
		ExpiresAt: at.Add(10 * time.Minute),
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("issue code %s: %v", value, err)
	}
	return code
}

func testDuplicateEmail(t *testing.T, store accounts.Store) {
	createUser(t, store, "ann@x.com", base)

	_, err := store.CreateUser(context.Background(), model.User{Name: "Other", Email: "ann@x.com", PasswordHash: "h", CreatedAt: base})
	if !errors.Is(err, accounts.ErrConflict) {
		t.Fatalf("duplicate email: got %v want ErrConflict", err)
	}
}

func testUserLookups(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	created := createUser(t, store, "ann@x.com", base)
	if created.ID <= 0 {
		t.Fatalf("unexpected id: %d", created.ID)
	}
	if created.TelegramChatID != nil {
		t.Fatalf("new user must not be linked")
	}

	byEmail, err := store.UserByEmail(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("user by email: %v", err)
	}
	if byEmail.ID != created.ID || !byEmail.CreatedAt.Equal(base) {
		t.Fatalf("unexpected user: %+v", byEmail)
	}

	if err := store.SetTelegramChatID(ctx, created.ID, 777); err != nil {
		t.Fatalf("set chat id: %v", err)
	}
	if err := store.SetPasswordHash(ctx, created.ID, "new-hash"); err != nil {
		t.Fatalf("set password hash: %v", err)
	}

	byID, err := store.UserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("user by id: %v", err)
	}
	if byID.TelegramChatID == nil || *byID.TelegramChatID != 777 || byID.PasswordHash != "new-hash" {
		t.Fatalf("updates not stored: %+v", byID)
	}

	if _, err := store.UserByEmail(ctx, "nobody@x.com"); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("unknown email: got %v want ErrNotFound", err)
	}
	if _, err := store.UserByID(ctx, created.ID+100); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("unknown id: got %v want ErrNotFound", err)
	}
}

func testListUsersOrder(t *testing.T, store accounts.Store) {
	createUser(t, store, "old@x.com", base)
	createUser(t, store, "new@x.com", base.Add(time.Hour))

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("unexpected user count: got %d want 2", len(users))
	}
	if users[0].Email != "new@x.com" || users[1].Email != "old@x.com" {
		t.Fatalf("unexpected order: %s, %s", users[0].Email, users[1].Email)
	}
}

func testUpdateMissingUser(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	if err := store.SetTelegramChatID(ctx, 999, 1); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("set chat id: got %v want ErrNotFound", err)
	}
	if err := store.SetPasswordHash(ctx, 999, "h"); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("set password hash: got %v want ErrNotFound", err)
	}
}

func testIssueSupersedes(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	user := createUser(t, store, "ann@x.com", base)

	first := issue(t, store, user.ID, enums.CodePurposeTelegramLink, "111111", base)
	reset := issue(t, store, user.ID, enums.CodePurposePasswordReset, "222222", base)
	issue(t, store, user.ID, enums.CodePurposeTelegramLink, "333333", base.Add(time.Minute))

	old, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposeTelegramLink, Value: first.Value})
	if err != nil {
		t.Fatalf("find superseded code: %v", err)
	}
	if !old.Used() {
		t.Fatalf("previous link code must be marked used")
	}

	other, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposePasswordReset, Value: reset.Value})
	if err != nil {
		t.Fatalf("find reset code: %v", err)
	}
	if other.Used() {
		t.Fatalf("codes of another purpose must stay unused")
	}
}

func testIssueRequiresOwner(t *testing.T, store accounts.Store) {
	_, err := store.IssueCode(context.Background(), model.Code{
		UserID:    999,
		Purpose:   enums.CodePurposeTelegramLink,
		Value:     "123456",
		ExpiresAt: base.Add(time.Minute),
		CreatedAt: base,
	})
	if !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("missing owner: got %v want ErrNotFound", err)
	}
}

func testFindScopesByUser(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	ann := createUser(t, store, "ann@x.com", base)
	bob := createUser(t, store, "bob@x.com", base)

	issue(t, store, ann.ID, enums.CodePurposePasswordReset, "424242", base)
	newer := issue(t, store, bob.ID, enums.CodePurposePasswordReset, "424242", base.Add(time.Minute))

	latest, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposePasswordReset, Value: "424242"})
	if err != nil {
		t.Fatalf("find any owner: %v", err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("expected newest code %d, got %d", newer.ID, latest.ID)
	}

	scoped, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposePasswordReset, Value: "424242", UserID: ann.ID})
	if err != nil {
		t.Fatalf("find scoped: %v", err)
	}
	if scoped.UserID != ann.ID {
		t.Fatalf("scoped lookup returned user %d", scoped.UserID)
	}

	if _, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposeTelegramLink, Value: "424242"}); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("other purpose: got %v want ErrNotFound", err)
	}
}

func testConsumeOnce(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	user := createUser(t, store, "ann@x.com", base)
	code := issue(t, store, user.ID, enums.CodePurposeTelegramLink, "123456", base)

	if err := store.ConsumeCode(ctx, code.ID, base.Add(time.Minute)); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := store.ConsumeCode(ctx, code.ID, base.Add(2*time.Minute)); !errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("second consume: got %v want ErrCodeUsed", err)
	}
	if err := store.ConsumeCode(ctx, code.ID+100, base); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("missing code: got %v want ErrNotFound", err)
	}

	found, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposeTelegramLink, Value: "123456"})
	if err != nil {
		t.Fatalf("find consumed: %v", err)
	}
	if found.UsedAt == nil || !found.UsedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected used_at: %v", found.UsedAt)
	}
}

func testHasActive(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	user := createUser(t, store, "ann@x.com", base)
	issue(t, store, user.ID, enums.CodePurposeTelegramLink, "123456", base)

	active, err := store.HasActiveCode(ctx, enums.CodePurposeTelegramLink, "123456", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if !active {
		t.Fatalf("fresh code must be active")
	}

	active, err = store.HasActiveCode(ctx, enums.CodePurposeTelegramLink, "123456", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("has active after expiry: %v", err)
	}
	if active {
		t.Fatalf("expired code must not be active")
	}

	active, err = store.HasActiveCode(ctx, enums.CodePurposePasswordReset, "123456", base)
	if err != nil {
		t.Fatalf("has active other purpose: %v", err)
	}
	if active {
		t.Fatalf("purpose must be part of the match")
	}
}

func testDeleteBefore(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	user := createUser(t, store, "ann@x.com", base)

	issue(t, store, user.ID, enums.CodePurposeTelegramLink, "111111", base)
	issue(t, store, user.ID, enums.CodePurposePasswordReset, "222222", base.Add(2*time.Hour))

	deleted, err := store.DeleteCodesBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete codes: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("unexpected deleted count: got %d want 1", deleted)
	}

	if _, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposeTelegramLink, Value: "111111"}); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("stale code: got %v want ErrNotFound", err)
	}
	if _, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposePasswordReset, Value: "222222"}); err != nil {
		t.Fatalf("fresh code removed: %v", err)
	}
}

func testZonedTimes(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	tokyo := time.FixedZone("JST", 9*60*60)
	user := createUser(t, store, "ann@x.com", base)
	code := issue(t, store, user.ID, enums.CodePurposeTelegramLink, "123456", base)

	deleted, err := store.DeleteCodesBefore(ctx, base.Add(5*time.Minute).In(tokyo))
	if err != nil {
		t.Fatalf("delete codes: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("zoned cutoff removed %d live codes", deleted)
	}

	active, err := store.HasActiveCode(ctx, enums.CodePurposeTelegramLink, "123456", base.Add(time.Minute).In(tokyo))
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if !active {
		t.Fatalf("code must be active at a zoned time before expiry")
	}

	usedAt := base.Add(2 * time.Minute).In(tokyo)
	if err := store.ConsumeCode(ctx, code.ID, usedAt); err != nil {
		t.Fatalf("consume: %v", err)
	}
	found, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposeTelegramLink, Value: "123456"})
	if err != nil {
		t.Fatalf("find consumed: %v", err)
	}
	if found.UsedAt == nil || !found.UsedAt.Equal(usedAt) {
		t.Fatalf("unexpected used_at: %v", found.UsedAt)
	}

	deleted, err = store.DeleteCodesBefore(ctx, usedAt.Add(-time.Second))
	if err != nil {
		t.Fatalf("delete codes after use: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("code used after the cutoff was removed")
	}
}

func testLinkTelegram(t *testing.T, store accounts.Store) {
	ctx := context.Background()
	user := createUser(t, store, "ann@x.com", base)
	code := issue(t, store, user.ID, enums.CodePurposeTelegramLink, "123456", base)

	if err := store.LinkTelegram(ctx, code.ID, 555, base.Add(time.Minute)); err != nil {
		t.Fatalf("link telegram: %v", err)
	}
	linked, err := store.UserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("user by id: %v", err)
	}
	if linked.TelegramChatID == nil || *linked.TelegramChatID != 555 {
		t.Fatalf("chat id not stored: %v", linked.TelegramChatID)
	}
	found, err := store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposeTelegramLink, Value: "123456"})
	if err != nil {
		t.Fatalf("find code: %v", err)
	}
	if !found.Used() {
		t.Fatalf("link code must be consumed")
	}

	if err := store.LinkTelegram(ctx, code.ID, 777, base.Add(2*time.Minute)); !errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("second link: got %v want ErrCodeUsed", err)
	}
	again, err := store.UserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("user by id: %v", err)
	}
	if again.TelegramChatID == nil || *again.TelegramChatID != 555 {
		t.Fatalf("used code changed the chat id: %v", again.TelegramChatID)
	}

	if err := store.LinkTelegram(ctx, code.ID+100, 1, base); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("missing code: got %v want ErrNotFound", err)
	}
}

const racers = 16

func testConcurrentCreateUser(t *testing.T, store accounts.Store) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.CreateUser(context.Background(), model.User{
				Name:         "Ann",
				Email:        "ann@x.com",
				PasswordHash: "hash",
				CreatedAt:    base,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, accounts.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if ok != 1 || conflicts != racers-1 {
		t.Fatalf("want one winner: ok=%d conflicts=%d", ok, conflicts)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("unexpected user count: %d", len(users))
	}
}

func testConcurrentConsume(t *testing.T, store accounts.Store) {
	user := createUser(t, store, "ann@x.com", base)
	code := issue(t, store, user.ID, enums.CodePurposePasswordReset, "123456", base)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		used   int
		others []error
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := store.ConsumeCode(context.Background(), code.ID, base.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, accounts.ErrCodeUsed):
				used++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if wins != 1 || used != racers-1 {
		t.Fatalf("want one winner: wins=%d used=%d", wins, used)
	}
}
