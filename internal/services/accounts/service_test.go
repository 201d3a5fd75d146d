package accounts_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/repo/memory"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) SendText(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return n.err
}

func (n *fakeNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("expected a sent message")
	}
	return n.sent[len(n.sent)-1]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type blockingLimiter struct {
	retryAfter int64
}

func (l blockingLimiter) AllowCodeRequest(context.Context, enums.CodePurpose, string) (int64, bool, error) {
	return l.retryAfter, false, nil
}

type fixture struct {
	svc      *accounts.Service
	store    *memory.Store
	notifier *fakeNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.NewStore()
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	cfg := accounts.DefaultConfig()
	cfg.PasswordCost = bcrypt.MinCost
	svc := accounts.NewService(store, notifier, cfg)
	svc.AttachClock(clock.Now)

	return fixture{svc: svc, store: store, notifier: notifier, clock: clock}
}

func (f fixture) register(t *testing.T, name, email, password string) int64 {
	t.Helper()
	id, err := f.svc.Register(context.Background(), name, email, password)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return id
}

func (f fixture) link(t *testing.T, email string, chatID int64) {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.RequestTelegramLink(ctx, email)
	if err != nil {
		t.Fatalf("request link for %s: %v", email, err)
	}
	if _, err := f.svc.ConfirmTelegramLink(ctx, req.Code, chatID); err != nil {
		t.Fatalf("confirm link for %s: %v", email, err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.register(t, "Ann", "ann@x.com", "secret1")
	if id <= 0 {
		t.Fatalf("unexpected user id: %d", id)
	}

	user, err := f.svc.Login(ctx, "ann@x.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != id || user.Name != "Ann" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "secret1" {
		t.Fatalf("password stored in clear text")
	}

	if _, err := f.svc.Login(ctx, "ann@x.com", "wrong"); !errors.Is(err, accounts.ErrAuth) {
		t.Fatalf("wrong password: got %v want ErrAuth", err)
	}
	if _, err := f.svc.Login(ctx, "nobody@x.com", "secret1"); !errors.Is(err, accounts.ErrAuth) {
		t.Fatalf("unknown email: got %v want ErrAuth", err)
	}
}

func TestRegisterRejectsDuplicateAndMissingFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ann", "ann@x.com", "secret1")

	if _, err := f.svc.Register(ctx, "Other", "ann@x.com", "secret2"); !errors.Is(err, accounts.ErrConflict) {
		t.Fatalf("duplicate email: got %v want ErrConflict", err)
	}
	if _, err := f.svc.Register(ctx, "", "b@x.com", "secret"); !errors.Is(err, accounts.ErrValidation) {
		t.Fatalf("missing name: got %v want ErrValidation", err)
	}
	if _, err := f.svc.Register(ctx, "Bob", "b@x.com", strings.Repeat("p", 73)); !errors.Is(err, accounts.ErrValidation) {
		t.Fatalf("long password: got %v want ErrValidation", err)
	}

	users, err := f.svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("unexpected user count: got %d want 1", len(users))
	}
}

func TestTelegramLinkFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "Ann", "ann@x.com", "secret1")

	req, err := f.svc.RequestTelegramLink(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("request link: %v", err)
	}
	n, err := strconv.Atoi(req.Code)
	if err != nil || n < 100000 || n > 999999 {
		t.Fatalf("unexpected link code: %q", req.Code)
	}
	if !strings.Contains(req.Instructions, "/link "+req.Code) {
		t.Fatalf("instructions do not mention the code: %q", req.Instructions)
	}
	if want := f.clock.Now().Add(accounts.DefaultCodeTTL); !req.ExpiresAt.Equal(want) {
		t.Fatalf("unexpected expiry: got %s want %s", req.ExpiresAt, want)
	}

	result, err := f.svc.ConfirmTelegramLink(ctx, req.Code, 555)
	if err != nil {
		t.Fatalf("confirm link: %v", err)
	}
	if result.UserID != id || result.Email != "ann@x.com" {
		t.Fatalf("unexpected link result: %+v", result)
	}

	user, err := f.svc.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.Linked() || *user.TelegramChatID != 555 {
		t.Fatalf("user not linked: %+v", user)
	}
	if msg := f.notifier.last(t); msg.chatID != 555 || !strings.Contains(msg.text, "ann@x.com") {
		t.Fatalf("unexpected confirmation message: %+v", msg)
	}

	if _, err := f.svc.ConfirmTelegramLink(ctx, req.Code, 555); !errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("second confirm: got %v want ErrCodeUsed", err)
	}
}

func TestConfirmTelegramLinkErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Ann", "ann@x.com", "secret1")

	if _, err := f.svc.ConfirmTelegramLink(ctx, "", 555); !errors.Is(err, accounts.ErrValidation) {
		t.Fatalf("empty code: got %v want ErrValidation", err)
	}
	if _, err := f.svc.ConfirmTelegramLink(ctx, "123456", 0); !errors.Is(err, accounts.ErrValidation) {
		t.Fatalf("zero chat: got %v want ErrValidation", err)
	}
	if _, err := f.svc.ConfirmTelegramLink(ctx, "000000", 555); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("unknown code: got %v want ErrNotFound", err)
	}

	req, err := f.svc.RequestTelegramLink(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("request link: %v", err)
	}
	f.clock.Advance(accounts.DefaultCodeTTL)
	if _, err := f.svc.ConfirmTelegramLink(ctx, req.Code, 555); !errors.Is(err, accounts.ErrCodeExpired) {
		t.Fatalf("expired code: got %v want ErrCodeExpired", err)
	}

	if _, err := f.svc.RequestTelegramLink(ctx, "nobody@x.com"); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("unknown email: got %v want ErrNotFound", err)
	}
}

type failingLinkStore struct {
	*memory.Store
	err error
}

func (s *failingLinkStore) LinkTelegram(ctx context.Context, codeID, chatID int64, at time.Time) error {
	if s.err != nil {
		return s.err
	}
	return s.Store.LinkTelegram(ctx, codeID, chatID, at)
}

func TestFailedLinkKeepsCodeUsable(t *testing.T) {
	store := &failingLinkStore{Store: memory.NewStore(), err: errors.New("disk full")}
	cfg := accounts.DefaultConfig()
	cfg.PasswordCost = bcrypt.MinCost
	svc := accounts.NewService(store, &fakeNotifier{}, cfg)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Ann", "ann@x.com", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	req, err := svc.RequestTelegramLink(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("request link: %v", err)
	}

	if _, err := svc.ConfirmTelegramLink(ctx, req.Code, 555); err == nil || errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("expected store failure, got %v", err)
	}
	user, err := store.UserByEmail(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("user by email: %v", err)
	}
	if user.Linked() {
		t.Fatalf("failed link must not bind the chat")
	}

	store.err = nil
	res, err := svc.ConfirmTelegramLink(ctx, req.Code, 555)
	if err != nil {
		t.Fatalf("retry with the same code: %v", err)
	}
	if res.Email != "ann@x.com" {
		t.Fatalf("unexpected link result: %+v", res)
	}
}

func TestNewLinkCodeSupersedesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Ann", "ann@x.com", "secret1")

	first, err := f.svc.RequestTelegramLink(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	f.clock.Advance(time.Second)
	second, err := f.svc.RequestTelegramLink(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if first.Code == second.Code {
		t.Skip("random codes collided")
	}

	if _, err := f.svc.ConfirmTelegramLink(ctx, first.Code, 555); !errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("superseded code: got %v want ErrCodeUsed", err)
	}
	if _, err := f.svc.ConfirmTelegramLink(ctx, second.Code, 555); err != nil {
		t.Fatalf("latest code: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Ann", "ann@x.com", "secret1")

	if _, err := f.svc.RequestPasswordReset(ctx, "ann@x.com"); !errors.Is(err, accounts.ErrNotLinked) {
		t.Fatalf("unlinked reset: got %v want ErrNotLinked", err)
	}

	f.link(t, "ann@x.com", 555)

	req, err := f.svc.RequestPasswordReset(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	msg := f.notifier.last(t)
	if msg.chatID != 555 || !strings.Contains(msg.text, req.Code) {
		t.Fatalf("reset code not delivered: %+v", msg)
	}

	if err := f.svc.ResetPassword(ctx, "ann@x.com", req.Code, "newpass"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, err := f.svc.Login(ctx, "ann@x.com", "secret1"); !errors.Is(err, accounts.ErrAuth) {
		t.Fatalf("old password: got %v want ErrAuth", err)
	}
	if _, err := f.svc.Login(ctx, "ann@x.com", "newpass"); err != nil {
		t.Fatalf("new password login: %v", err)
	}

	if err := f.svc.ResetPassword(ctx, "ann@x.com", req.Code, "other"); !errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("reused reset code: got %v want ErrCodeUsed", err)
	}
}

func TestResetPasswordRejectsAnotherUsersCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Ann", "ann@x.com", "secret1")
	f.register(t, "Bob", "bob@x.com", "secret2")
	f.link(t, "ann@x.com", 555)

	req, err := f.svc.RequestPasswordReset(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}

	if err := f.svc.ResetPassword(ctx, "bob@x.com", req.Code, "hijack"); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("foreign code: got %v want ErrNotFound", err)
	}
	if _, err := f.svc.Login(ctx, "bob@x.com", "secret2"); err != nil {
		t.Fatalf("bob password changed: %v", err)
	}
}

func TestResetCodeExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Ann", "ann@x.com", "secret1")
	f.link(t, "ann@x.com", 555)

	req, err := f.svc.RequestPasswordReset(ctx, "ann@x.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	f.clock.Advance(accounts.DefaultCodeTTL + time.Second)

	if err := f.svc.ResetPassword(ctx, "ann@x.com", req.Code, "newpass"); !errors.Is(err, accounts.ErrCodeExpired) {
		t.Fatalf("expired reset: got %v want ErrCodeExpired", err)
	}
}

func TestFailedDeliveryInvalidatesResetCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "Ann", "ann@x.com", "secret1")
	f.link(t, "ann@x.com", 555)

	f.notifier.err = errors.New("telegram down")
	if _, err := f.svc.RequestPasswordReset(ctx, "ann@x.com"); !errors.Is(err, accounts.ErrNotifier) {
		t.Fatalf("failed delivery: got %v want ErrNotifier", err)
	}

	text := f.notifier.last(t).text
	value := text[strings.Index(text, "<code>")+len("<code>") : strings.Index(text, "</code>")]

	code, err := f.store.FindCode(ctx, model.CodeQuery{Purpose: enums.CodePurposePasswordReset, Value: value, UserID: id})
	if err != nil {
		t.Fatalf("find undelivered code: %v", err)
	}
	if !code.Used() {
		t.Fatalf("undelivered code %s is still usable", value)
	}
	if err := f.svc.ResetPassword(ctx, "ann@x.com", value, "newpass"); !errors.Is(err, accounts.ErrCodeUsed) {
		t.Fatalf("undelivered code reset: got %v want ErrCodeUsed", err)
	}
}

func TestCodeRequestsAreRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Ann", "ann@x.com", "secret1")
	f.svc.AttachLimiter(blockingLimiter{retryAfter: 42})

	_, err := f.svc.RequestTelegramLink(ctx, "ann@x.com")
	if !errors.Is(err, accounts.ErrRateLimited) {
		t.Fatalf("link request: got %v want ErrRateLimited", err)
	}
	var rateErr *accounts.RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfterSec != 42 {
		t.Fatalf("unexpected rate limit error: %#v", err)
	}
}

func TestGetUserRejectsNonPositiveID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GetUser(context.Background(), 0); !errors.Is(err, accounts.ErrNotFound) {
		t.Fatalf("zero id: got %v want ErrNotFound", err)
	}
}

func TestCodePolicyGenerate(t *testing.T) {
	policy := accounts.CodePolicy{Length: 8, Charset: "AB"}
	for i := 0; i < 50; i++ {
		code, err := policy.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 8 || strings.Trim(code, "AB") != "" {
			t.Fatalf("unexpected code: %q", code)
		}
	}
}
