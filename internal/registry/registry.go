// Package registry holds the in-memory set of registered users and provides
// the CRUD surface the rest of the application builds on. The registry is the
// sole owner of its collection: callers only ever see value copies.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicebridge/internal/domain"
)

var (
	// ErrDuplicateUser is returned when adding a username that already exists.
	ErrDuplicateUser = errors.New("user already exists")
	// ErrInvalidEmail is returned when an email fails the acceptance predicate.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrUserNotFound is returned by mutating operations on absent usernames.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidArgument is returned for out-of-range operation inputs.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Registry is a process-scoped, in-memory user store. Usernames are compared
// byte-for-byte; there is no folding, trimming, or partial matching anywhere.
// All operations are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	users map[string]domain.User
	order []string // usernames in insertion order

	now    func() time.Time
	logger *logrus.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		users: make(map[string]domain.User),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}
	return r
}

// AddUser creates and inserts a new user. The username must not already be
// registered and the email must pass validation.
func (r *Registry) AddUser(username, email string) (domain.User, error) {
	if username == "" {
		return domain.User{}, fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if !domain.ValidEmail(email) {
		return domain.User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[username]; exists {
		return domain.User{}, fmt.Errorf("%w: %q", ErrDuplicateUser, username)
	}

	user := domain.User{
		Username:  username,
		Email:     email,
		CreatedAt: r.now(),
	}
	r.users[username] = user
	r.order = append(r.order, username)

	r.logger.Debugf("registry: added user %q (%d total)", username, len(r.users))
	return user, nil
}

// FindUser looks up a user by exact username. The second return value
// distinguishes absence from a present user with zero-valued fields.
func (r *Registry) FindUser(username string) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[username]
	return user, ok
}

// UpdateUserEmail replaces the email of an existing user. Only the email
// field changes; username and creation time are immutable.
func (r *Registry) UpdateUserEmail(username, newEmail string) (domain.User, error) {
	if !domain.ValidEmail(newEmail) {
		return domain.User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, newEmail)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %q", ErrUserNotFound, username)
	}

	user.Email = newEmail
	r.users[username] = user
	return user, nil
}

// RemoveUser deletes a single user by exact username and returns it.
func (r *Registry) RemoveUser(username string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %q", ErrUserNotFound, username)
	}

	delete(r.users, username)
	for i, name := range r.order {
		if name == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return user, nil
}

// DeleteInactiveUsers removes every user strictly older than inactiveDays
// days, using a fixed 24-hour day. The eligible set is computed over a
// snapshot taken at call start and the retained set is swapped in atomically,
// so adjacent removals can never shadow each other. Removed users are
// returned in their original insertion order.
func (r *Registry) DeleteInactiveUsers(inactiveDays int) ([]domain.User, error) {
	if inactiveDays < 0 {
		return nil, fmt.Errorf("%w: inactiveDays must be >= 0, got %d", ErrInvalidArgument, inactiveDays)
	}

	cutoff := time.Duration(inactiveDays) * 24 * time.Hour
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]domain.User, 0)
	retained := make([]string, 0, len(r.order))
	for _, name := range r.order {
		user := r.users[name]
		if now.Sub(user.CreatedAt) > cutoff {
			removed = append(removed, user)
			delete(r.users, name)
			continue
		}
		retained = append(retained, name)
	}
	r.order = retained

	if len(removed) > 0 {
		r.logger.Infof("registry: pruned %d inactive user(s), %d remain", len(removed), len(r.users))
	}
	return removed, nil
}

// Users returns a snapshot of all users in insertion order.
func (r *Registry) Users() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.User, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.users[name])
	}
	return out
}

// Len reports the current user count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Handle is an opaque reference to a registry. Callers that need "a user plus
// a way to act on the registry again" get a Handle alongside the user instead
// of a back-pointer stored on the User itself.
type Handle struct {
	r *Registry
}

// AddUser delegates to the underlying registry.
func (h Handle) AddUser(username, email string) (domain.User, error) {
	return h.r.AddUser(username, email)
}

// FindUser delegates to the underlying registry.
func (h Handle) FindUser(username string) (domain.User, bool) {
	return h.r.FindUser(username)
}

// UpdateUserEmail delegates to the underlying registry.
func (h Handle) UpdateUserEmail(username, newEmail string) (domain.User, error) {
	return h.r.UpdateUserEmail(username, newEmail)
}

// DeleteInactiveUsers delegates to the underlying registry.
func (h Handle) DeleteInactiveUsers(inactiveDays int) ([]domain.User, error) {
	return h.r.DeleteInactiveUsers(inactiveDays)
}

// UserContext returns the user (by FindUser's contract) together with a
// handle for follow-up operations against the registry.
func (r *Registry) UserContext(username string) (domain.User, bool, Handle) {
	user, ok := r.FindUser(username)
	return user, ok, Handle{r: r}
}
