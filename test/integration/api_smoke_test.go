package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/app/apiapp"
	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/repo/memory"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (n *recordingNotifier) SendText(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[int64][]string)
	}
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

func (n *recordingNotifier) count(chatID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[chatID])
}

func newServer(t *testing.T, withRedis bool) (*httptest.Server, *recordingNotifier) {
	t.Helper()

	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	if withRedis {
		mr := miniredis.RunT(t)
		cfg.Redis.Addr = mr.Addr()
	}
	return newServerWithConfig(t, cfg)
}

func newServerWithConfig(t *testing.T, cfg config.Config) (*httptest.Server, *recordingNotifier) {
	t.Helper()

	notifier := &recordingNotifier{}
	app, err := apiapp.New(context.Background(), cfg, zap.NewNop(),
		apiapp.WithStore(memory.NewStore()),
		apiapp.WithNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	return ts, notifier
}

func call(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := newServer(t, false)

	var payload struct {
		Status string `json:"status"`
		Store  string `json:"store"`
	}
	if status := call(t, http.MethodGet, ts.URL+"/api/health", "", nil, &payload); status != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", status, http.StatusOK)
	}
	if payload.Status != "ok" || payload.Store != "ok" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAccountLifecycle(t *testing.T) {
	ts, notifier := newServer(t, false)
	api := ts.URL + "/api/auth"

	var registered struct {
		Success bool  `json:"success"`
		UserID  int64 `json:"user_id"`
	}
	status := call(t, http.MethodPost, api+"/register", "", map[string]string{
		"full_name": "Ann",
		"email":     "ann@x.com",
		"password":  "secret1",
	}, &registered)
	if status != http.StatusOK || !registered.Success || registered.UserID <= 0 {
		t.Fatalf("register: status %d payload %+v", status, registered)
	}

	var link struct {
		LinkCode string `json:"linkCode"`
	}
	if status := call(t, http.MethodPost, api+"/request-telegram-link", "", map[string]string{"email": "ann@x.com"}, &link); status != http.StatusOK {
		t.Fatalf("request link: unexpected status %d", status)
	}
	if len(link.LinkCode) != 6 {
		t.Fatalf("unexpected link code: %q", link.LinkCode)
	}

	var confirmed struct {
		Success bool   `json:"success"`
		Email   string `json:"email"`
	}
	status = call(t, http.MethodPost, api+"/confirm-telegram-link", "", map[string]any{
		"linkCode":         link.LinkCode,
		"telegram_chat_id": "555",
	}, &confirmed)
	if status != http.StatusOK || confirmed.Email != "ann@x.com" {
		t.Fatalf("confirm link: status %d payload %+v", status, confirmed)
	}
	if notifier.count(555) != 1 {
		t.Fatalf("expected link confirmation in chat 555")
	}

	var reset struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	if status := call(t, http.MethodPost, api+"/request-password-reset", "", map[string]string{"email": "ann@x.com"}, &reset); status != http.StatusOK {
		t.Fatalf("request reset: unexpected status %d", status)
	}
	if !reset.Success || reset.Code == "" {
		t.Fatalf("unexpected reset payload: %+v", reset)
	}
	if notifier.count(555) != 2 {
		t.Fatalf("expected reset code in chat 555")
	}

	status = call(t, http.MethodPost, api+"/reset-password", "", map[string]string{
		"email":       "ann@x.com",
		"code":        reset.Code,
		"newPassword": "newpass",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("reset password: unexpected status %d", status)
	}

	if status := call(t, http.MethodPost, api+"/login", "", map[string]string{"email": "ann@x.com", "password": "secret1"}, nil); status != http.StatusUnauthorized {
		t.Fatalf("old password login: got %d want %d", status, http.StatusUnauthorized)
	}

	var login struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"access_token"`
	}
	if status := call(t, http.MethodPost, api+"/login", "", map[string]string{"email": "ann@x.com", "password": "newpass"}, &login); status != http.StatusOK {
		t.Fatalf("new password login: unexpected status %d", status)
	}
	if !login.Success || login.AccessToken != "" {
		t.Fatalf("unexpected login payload without redis: %+v", login)
	}

	var users struct {
		Users []struct {
			Email          string `json:"email"`
			TelegramChatID *int64 `json:"telegram_chat_id"`
		} `json:"users"`
	}
	if status := call(t, http.MethodGet, ts.URL+"/api/users", "", nil, &users); status != http.StatusOK {
		t.Fatalf("list users: unexpected status %d", status)
	}
	if len(users.Users) != 1 || users.Users[0].TelegramChatID == nil || *users.Users[0].TelegramChatID != 555 {
		t.Fatalf("unexpected users: %+v", users.Users)
	}
}

func TestTokensWithRedis(t *testing.T) {
	ts, _ := newServer(t, true)
	api := ts.URL + "/api/auth"

	call(t, http.MethodPost, api+"/register", "", map[string]string{
		"full_name": "Ann",
		"email":     "ann@x.com",
		"password":  "secret1",
	}, nil)

	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if status := call(t, http.MethodPost, api+"/login", "", map[string]string{"email": "ann@x.com", "password": "secret1"}, &login); status != http.StatusOK {
		t.Fatalf("login: unexpected status %d", status)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatalf("expected tokens with redis configured: %+v", login)
	}

	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if status := call(t, http.MethodGet, ts.URL+"/api/me", login.AccessToken, nil, &me); status != http.StatusOK {
		t.Fatalf("me: unexpected status %d", status)
	}
	if me.User.Email != "ann@x.com" {
		t.Fatalf("unexpected me payload: %+v", me)
	}

	var refreshed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if status := call(t, http.MethodPost, api+"/refresh", "", map[string]string{"refresh_token": login.RefreshToken}, &refreshed); status != http.StatusOK {
		t.Fatalf("refresh: unexpected status %d", status)
	}
	if refreshed.RefreshToken == "" || refreshed.RefreshToken == login.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	if status := call(t, http.MethodPost, api+"/logout", refreshed.AccessToken, nil, nil); status != http.StatusOK {
		t.Fatalf("logout: unexpected status %d", status)
	}
	if status := call(t, http.MethodGet, ts.URL+"/api/me", refreshed.AccessToken, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("me after logout: got %d want %d", status, http.StatusUnauthorized)
	}
}

func TestUnreachableRedisFallsBackToLocalMode(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	ts, _ := newServerWithConfig(t, cfg)
	api := ts.URL + "/api/auth"

	call(t, http.MethodPost, api+"/register", "", map[string]string{
		"full_name": "Ann",
		"email":     "ann@x.com",
		"password":  "secret1",
	}, nil)

	var login struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"access_token"`
	}
	if status := call(t, http.MethodPost, api+"/login", "", map[string]string{"email": "ann@x.com", "password": "secret1"}, &login); status != http.StatusOK {
		t.Fatalf("login: unexpected status %d", status)
	}
	if !login.Success || login.AccessToken != "" {
		t.Fatalf("unexpected login payload: %+v", login)
	}

	if status := call(t, http.MethodPost, api+"/request-telegram-link", "", map[string]string{"email": "ann@x.com"}, nil); status != http.StatusOK {
		t.Fatalf("request link: unexpected status %d", status)
	}
}

func TestUnknownPageIsNotServed(t *testing.T) {
	ts, _ := newServer(t, false)

	resp, err := http.Get(ts.URL + "/secrets.html")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, http.StatusNotFound)
	}
}
