package domain

import (
	"strings"
	"time"
)

// User represents one registered person. It is a plain value: it holds no
// reference to the registry that owns it and is safe to copy.
type User struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgeDays reports the user's age since creation using a fixed 24-hour day.
func (u User) AgeDays(now time.Time) float64 {
	return now.Sub(u.CreatedAt).Hours() / 24
}

// ValidEmail reports whether an address passes the registry's acceptance
// predicate: a non-empty local part, an @, and a dotted domain segment.
func ValidEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	dom := email[at+1:]
	if dom == "" || strings.HasPrefix(dom, ".") || strings.HasSuffix(dom, ".") {
		return false
	}
	return strings.Contains(dom, ".")
}
