package booking

import (
	"strings"
	"time"
)

// Optional is one field of a partial update. The zero value leaves the field
// unchanged; Null clears it; Set overwrites it.
type Optional[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns an Optional that overwrites the field with v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{present: true, value: v}
}

// Null returns an Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{present: true, null: true}
}

// Present reports whether the field is part of the patch.
func (o Optional[T]) Present() bool { return o.present }

// IsNull reports whether the patch clears the field.
func (o Optional[T]) IsNull() bool { return o.present && o.null }

// Value returns the new value and whether one is set.
func (o Optional[T]) Value() (T, bool) {
	return o.value, o.present && !o.null
}

// apply writes the patched value into dst.
func (o Optional[T]) apply(dst *T) {
	if !o.present {
		return
	}
	if o.null {
		var zero T
		*dst = zero
		return
	}
	*dst = o.value
}

// TravelFields is the input of CreateTravel.
type TravelFields struct {
	Name     string
	Location string
	Date     string
	Comments string
}

// TravelPatch updates a travel in place. Owner is part of the patch only so
// that an attempt to change it can be rejected.
type TravelPatch struct {
	Name     Optional[string]
	Location Optional[string]
	Date     Optional[string]
	Comments Optional[string]
	Owner    Optional[string]
}

func (p TravelPatch) validate(current Travel) error {
	if p.Name.IsNull() {
		return &ValidationError{Field: "name", Reason: "cannot be cleared"}
	}
	if name, ok := p.Name.Value(); ok && strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if p.Owner.Present() {
		if owner, ok := p.Owner.Value(); !ok || owner != current.Owner {
			return &ValidationError{Field: "owner", Reason: "cannot be changed"}
		}
	}
	return nil
}

func (p TravelPatch) apply(t *Travel) {
	p.Name.apply(&t.Name)
	p.Location.apply(&t.Location)
	p.Date.apply(&t.Date)
	p.Comments.apply(&t.Comments)
}

// ServiceFields is the input of AddService.
type ServiceFields struct {
	Name        string
	Description string
	PriceCents  int64
	Images      []string
}

// ServicePatch updates a service in place. The parent travel cannot change.
type ServicePatch struct {
	Name        Optional[string]
	Description Optional[string]
	PriceCents  Optional[int64]
	Images      Optional[[]string]
}

func (p ServicePatch) validate() error {
	if p.Name.IsNull() {
		return &ValidationError{Field: "name", Reason: "cannot be cleared"}
	}
	if name, ok := p.Name.Value(); ok && strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if price, ok := p.PriceCents.Value(); ok && price < 0 {
		return &ValidationError{Field: "priceCents", Reason: "must not be negative"}
	}
	return nil
}

func (p ServicePatch) apply(s *Service) {
	p.Name.apply(&s.Name)
	p.Description.apply(&s.Description)
	p.PriceCents.apply(&s.PriceCents)
	p.Images.apply(&s.Images)
}

// NewUser is the input of RegisterUser. The credential is already hashed.
type NewUser struct {
	Email          string
	Username       string
	CredentialHash string
	Role           Role
	PaidUntil      time.Time
}

// UserPatch updates account and subscription state.
type UserPatch struct {
	Username        Optional[string]
	Role            Optional[Role]
	PaidUntil       Optional[time.Time]
	SubscriptionRef Optional[string]
}

func (p UserPatch) validate() error {
	if p.Role.IsNull() {
		return &ValidationError{Field: "role", Reason: "cannot be cleared"}
	}
	if role, ok := p.Role.Value(); ok && !role.Valid() {
		return &ValidationError{Field: "role", Reason: "unknown role " + string(role)}
	}
	return nil
}

func (p UserPatch) apply(u *User) {
	p.Username.apply(&u.Username)
	p.Role.apply(&u.Role)
	p.PaidUntil.apply(&u.PaidUntil)
	p.SubscriptionRef.apply(&u.SubscriptionRef)
}
