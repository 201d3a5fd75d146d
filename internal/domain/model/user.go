package model

import "time"

type User struct {
	ID             int64
	Name           string
	Email          string
	PasswordHash   string
	TelegramChatID *int64
	CreatedAt      time.Time
}

func (u User) Linked() bool {
	return u.TelegramChatID != nil && *u.TelegramChatID != 0
}
