package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/repo/sqlite"
)

func TestUsersListsSQLiteUsers(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	seed(t, dbPath)

	out, err := run(t, "users", "--driver", "sqlite", "--sqlite-path", dbPath)
	if err != nil {
		t.Fatalf("run users: %v", err)
	}
	if !strings.Contains(out, "ann@x.com") || !strings.Contains(out, "555") {
		t.Fatalf("unexpected users output:\n%s", out)
	}
	if !strings.Contains(out, "bob@x.com") {
		t.Fatalf("expected unlinked user in output:\n%s", out)
	}
}

func TestPurgeCodesDeletesStaleCodes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	seed(t, dbPath)

	out, err := run(t, "purge-codes", "--driver", "sqlite", "--sqlite-path", dbPath, "--retention", "1h")
	if err != nil {
		t.Fatalf("run purge-codes: %v", err)
	}
	if strings.TrimSpace(out) != "deleted 1 codes" {
		t.Fatalf("unexpected purge output: %q", out)
	}
}

func TestMigrateRejectsUnknownDriver(t *testing.T) {
	if _, err := run(t, "migrate", "--driver", "mongo"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, path string) {
	t.Helper()

	store, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()

	ann, err := store.CreateUser(ctx, model.User{Name: "Ann", Email: "ann@x.com", PasswordHash: "x", CreatedAt: now})
	if err != nil {
		t.Fatalf("create ann: %v", err)
	}
	if _, err := store.CreateUser(ctx, model.User{Name: "Bob", Email: "bob@x.com", PasswordHash: "x", CreatedAt: now}); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if err := store.SetTelegramChatID(ctx, ann.ID, 555); err != nil {
		t.Fatalf("link ann: %v", err)
	}

	if _, err := store.IssueCode(ctx, model.Code{
		UserID:    ann.ID,
		Purpose:   enums.CodePurposeTelegramLink,
		Value:     "123456",
		ExpiresAt: now.Add(-3 * time.Hour),
		CreatedAt: now.Add(-3*time.Hour - 10*time.Minute),
	}); err != nil {
		t.Fatalf("issue stale code: %v", err)
	}
	if _, err := store.IssueCode(ctx, model.Code{
		UserID:    ann.ID,
		Purpose:   enums.CodePurposePasswordReset,
		Value:     "654321",
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("issue fresh code: %v", err)
	}
}
