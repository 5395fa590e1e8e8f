package booking

import (
	"context"
	"time"

	"github.com/tradojo/booking/store"
)

// RegisterUser creates an account. The email must not be registered yet.
func (e *Engine) RegisterUser(ctx context.Context, nu NewUser) (string, error) {
	u := User{
		ID:             e.newID(),
		Email:          nu.Email,
		Username:       nu.Username,
		CredentialHash: nu.CredentialHash,
		Role:           nu.Role,
		PaidUntil:      nu.PaidUntil,
		Travels:        []string{},
	}
	created, err := e.users.Create(ctx, u)
	if e.committed("create", KindUser, u.ID, err) {
		e.logger.Info("user registered", "user", created.ID)
		return created.ID, nil
	}
	return "", conflict(err)
}

// GetUser returns one user.
func (e *Engine) GetUser(ctx context.Context, userID string) (User, error) {
	u, err := e.users.Get(ctx, userID)
	return u, notFound(err, ErrNotFound)
}

// FindUserByEmail returns the user registered with email, in any case.
func (e *Engine) FindUserByEmail(ctx context.Context, email string) (User, error) {
	found, err := e.users.Find(ctx, store.By(IndexEmail, NormalizeEmail(email)), nil)
	if err != nil {
		return User{}, err
	}
	if len(found) == 0 {
		return User{}, ErrNotFound
	}
	return found[0], nil
}

// UpdateUser applies patch to a user's account and subscription state.
func (e *Engine) UpdateUser(ctx context.Context, userID string, patch UserPatch) (User, error) {
	if err := patch.validate(); err != nil {
		return User{}, err
	}
	u, err := e.users.Mutate(ctx, userID, func(u *User) error {
		patch.apply(u)
		return nil
	})
	if e.committed("update", KindUser, userID, err) {
		return u, nil
	}
	return User{}, conflict(notFound(err, ErrNotFound))
}

// RemoveUser deletes an account. Travels it owns are kept.
func (e *Engine) RemoveUser(ctx context.Context, userID string) error {
	u, err := e.users.Get(ctx, userID)
	if err != nil {
		return notFound(err, ErrNotFound)
	}
	_, err = e.users.Delete(ctx, userID)
	if !e.committed("delete", KindUser, userID, err) {
		return conflict(notFound(err, ErrNotFound))
	}
	e.logger.Info("user removed", "user", userID, "travels_kept", len(u.Travels))
	return nil
}

// BindDiscord binds a community account to a user and returns the one it
// replaces, if any.
func (e *Engine) BindDiscord(ctx context.Context, userID string, link DiscordLink) (*DiscordLink, error) {
	if link.AccountID == "" {
		return nil, &ValidationError{Field: "discord", Reason: "account id is required"}
	}
	var previous *DiscordLink
	_, err := e.users.Mutate(ctx, userID, func(u *User) error {
		previous = u.Discord
		if previous != nil && *previous == link {
			return store.SkipWrite
		}
		bound := link
		u.Discord = &bound
		return nil
	})
	if !e.committed("update", KindUser, userID, err) {
		return nil, conflict(notFound(err, ErrNotFound))
	}
	if previous != nil && previous.AccountID == link.AccountID {
		return nil, nil
	}
	return previous, nil
}

// ListLapsedSubscribers returns the paying users whose subscription ended
// before now.
func (e *Engine) ListLapsedSubscribers(ctx context.Context, now time.Time) ([]User, error) {
	return e.users.Find(ctx, store.By(IndexRole, string(RoleUser)), func(u User) bool {
		return u.Lapsed(now)
	})
}
