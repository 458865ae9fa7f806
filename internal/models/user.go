package models

import "strings"

// User is a directory entry. The normalized mobile number doubles as the
// user id.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Mobile    string `json:"mobile"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// NormalizeMobile strips everything but digits and a leading plus.
func NormalizeMobile(mobile string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(mobile) {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
