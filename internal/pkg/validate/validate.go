package validate

import "strings"

// Required reports whether every value has non-blank content.
func Required(values ...string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return false
		}
	}
	return true
}

// MaxBytes reports whether value fits in limit bytes. bcrypt ignores input
// past 72 bytes, so passwords are checked with it before hashing.
func MaxBytes(value string, limit int) bool {
	return len(value) <= limit
}
