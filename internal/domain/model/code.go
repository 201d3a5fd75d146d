package model

import (
	"time"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
)

// Code is a short-lived one-time value bound to a user. Link and reset codes
// share the shape and differ only by Purpose.
type Code struct {
	ID        int64
	UserID    int64
	Purpose   enums.CodePurpose
	Value     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (c Code) Used() bool {
	return c.UsedAt != nil
}

func (c Code) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c Code) Active(now time.Time) bool {
	return !c.Used() && !c.Expired(now)
}

// CodeQuery selects the most recently created code with Value and Purpose.
// A zero UserID matches any owner.
type CodeQuery struct {
	Purpose enums.CodePurpose
	Value   string
	UserID  int64
}
