package booking

import (
	"strings"
	"time"

	"github.com/tradojo/booking/store"
)

// Kinds stored by the engine.
const (
	KindUser    store.Kind = "user"
	KindTravel  store.Kind = "travel"
	KindService store.Kind = "service"
)

// Index names. Each is the name of the attribute holding the referenced id
// or looked-up value.
const (
	IndexEmail  = "email"
	IndexRole   = "role"
	IndexOwner  = "owner"
	IndexTravel = "travel"
)

// Role is a user's privilege level.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Privileged reports whether r may manage services.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// DiscordLink is the community account bound to a user.
type DiscordLink struct {
	AccountID   string `json:"accountId"`
	Username    string `json:"username,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// User is an account. Travels is maintained by the engine and lists every
// live travel the user owns.
type User struct {
	ID              string       `json:"id"`
	Email           string       `json:"email"`
	Username        string       `json:"username,omitempty"`
	CredentialHash  string       `json:"credentialHash,omitempty"`
	Role            Role         `json:"role"`
	PaidUntil       time.Time    `json:"paidUntil"`
	Travels         []string     `json:"travels"`
	Discord         *DiscordLink `json:"discord,omitempty"`
	SubscriptionRef string       `json:"subscriptionRef,omitempty"`
}

func (u User) EntityKind() store.Kind { return KindUser }
func (u User) EntityID() string       { return u.ID }

func (u User) Indexes() map[string]string {
	return map[string]string{
		IndexEmail: NormalizeEmail(u.Email),
		IndexRole:  string(u.Role),
	}
}

func (u User) UniqueFields() map[string]string {
	return map[string]string{IndexEmail: NormalizeEmail(u.Email)}
}

// Lapsed reports whether a paying user's subscription ran out before now.
func (u User) Lapsed(now time.Time) bool {
	return u.Role == RoleUser && u.PaidUntil.Before(now)
}

// Travel is a trip owned by one user and aggregating services.
type Travel struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location string   `json:"location,omitempty"`
	Date     string   `json:"date,omitempty"`
	Comments string   `json:"comments,omitempty"`
	Owner    string   `json:"owner"`
	Services []string `json:"services"`
}

func (t Travel) EntityKind() store.Kind { return KindTravel }
func (t Travel) EntityID() string       { return t.ID }

func (t Travel) Indexes() map[string]string {
	return map[string]string{IndexOwner: t.Owner}
}

// Service is a bookable item inside a travel.
type Service struct {
	ID          string   `json:"id"`
	Travel      string   `json:"travel"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PriceCents  int64    `json:"priceCents"`
	Images      []string `json:"images,omitempty"`
}

func (s Service) EntityKind() store.Kind { return KindService }
func (s Service) EntityID() string       { return s.ID }

func (s Service) Indexes() map[string]string {
	return map[string]string{IndexTravel: s.Travel}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	_ store.UniqueFielder = User{}
	_ store.Indexer       = Travel{}
	_ store.Indexer       = Service{}
)
