package enums

type CodePurpose string

const (
	CodePurposeTelegramLink  CodePurpose = "telegram_link"
	CodePurposePasswordReset CodePurpose = "password_reset"
)

func (p CodePurpose) Valid() bool {
	switch p {
	case CodePurposeTelegramLink, CodePurposePasswordReset:
		return true
	default:
		return false
	}
}
