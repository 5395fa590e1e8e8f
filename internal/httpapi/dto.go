package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/tradojo/booking/booking"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type idResponse struct {
	ID string `json:"id"`
}

type userResponse struct {
	ID              string               `json:"id"`
	Email           string               `json:"email"`
	Username        string               `json:"username,omitempty"`
	Role            booking.Role         `json:"role"`
	PaidUntil       *time.Time           `json:"paidUntil,omitempty"`
	Travels         []string             `json:"travels"`
	Discord         *discordLinkResponse `json:"discord,omitempty"`
	SubscriptionRef string               `json:"subscriptionRef,omitempty"`
}

type discordLinkResponse struct {
	AccountID string `json:"accountId"`
	Username  string `json:"username,omitempty"`
}

// userFromDomain leaves out the credential hash and the access token.
func userFromDomain(u booking.User) userResponse {
	out := userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		Role:            u.Role,
		Travels:         u.Travels,
		SubscriptionRef: u.SubscriptionRef,
	}
	if !u.PaidUntil.IsZero() {
		paid := u.PaidUntil
		out.PaidUntil = &paid
	}
	if u.Discord != nil {
		out.Discord = &discordLinkResponse{AccountID: u.Discord.AccountID, Username: u.Discord.Username}
	}
	return out
}

type travelRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Date     string `json:"date"`
	Comments string `json:"comments"`
}

type travelPatchRequest struct {
	Name     nullable.Nullable[string] `json:"name,omitempty"`
	Location nullable.Nullable[string] `json:"location,omitempty"`
	Date     nullable.Nullable[string] `json:"date,omitempty"`
	Comments nullable.Nullable[string] `json:"comments,omitempty"`
	Owner    nullable.Nullable[string] `json:"owner,omitempty"`
}

func (p travelPatchRequest) toDomain() booking.TravelPatch {
	return booking.TravelPatch{
		Name:     optional(p.Name),
		Location: optional(p.Location),
		Date:     optional(p.Date),
		Comments: optional(p.Comments),
		Owner:    optional(p.Owner),
	}
}

type serviceRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceCents  int64    `json:"priceCents"`
	Images      []string `json:"images"`
}

type servicePatchRequest struct {
	Name        nullable.Nullable[string]   `json:"name,omitempty"`
	Description nullable.Nullable[string]   `json:"description,omitempty"`
	PriceCents  nullable.Nullable[int64]    `json:"priceCents,omitempty"`
	Images      nullable.Nullable[[]string] `json:"images,omitempty"`
}

func (p servicePatchRequest) toDomain() booking.ServicePatch {
	return booking.ServicePatch{
		Name:        optional(p.Name),
		Description: optional(p.Description),
		PriceCents:  optional(p.PriceCents),
		Images:      optional(p.Images),
	}
}

type userPatchRequest struct {
	Username        nullable.Nullable[string]       `json:"username,omitempty"`
	Role            nullable.Nullable[booking.Role] `json:"role,omitempty"`
	PaidUntil       nullable.Nullable[time.Time]    `json:"paidUntil,omitempty"`
	SubscriptionRef nullable.Nullable[string]       `json:"subscriptionRef,omitempty"`
}

func (p userPatchRequest) toDomain() booking.UserPatch {
	return booking.UserPatch{
		Username:        optional(p.Username),
		Role:            optional(p.Role),
		PaidUntil:       optional(p.PaidUntil),
		SubscriptionRef: optional(p.SubscriptionRef),
	}
}

// optional converts a tri-state JSON field into a patch field.
func optional[T any](n nullable.Nullable[T]) booking.Optional[T] {
	if !n.IsSpecified() {
		return booking.Optional[T]{}
	}
	if n.IsNull() {
		return booking.Null[T]()
	}
	v, err := n.Get()
	if err != nil {
		return booking.Optional[T]{}
	}
	return booking.Set(v)
}

type deleteTravelResponse struct {
	ServicesDeleted int      `json:"servicesDeleted"`
	ServicesFailed  int      `json:"servicesFailed"`
	FailedServices  []string `json:"failedServices,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

func deleteResultFromDomain(res booking.DeleteResult) deleteTravelResponse {
	out := deleteTravelResponse{
		ServicesDeleted: res.ServicesDeleted,
		ServicesFailed:  res.ServicesFailed,
	}
	if res.Cascade != nil {
		for _, f := range res.Cascade.Failures {
			out.FailedServices = append(out.FailedServices, f.ServiceID)
		}
	}
	if res.OwnerUnlink != nil {
		out.Warnings = append(out.Warnings, res.OwnerUnlink.Error())
	}
	return out
}

type bindRequest struct {
	Code string `json:"code"`
}

type reconcileResponse struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type suspendResponse struct {
	Suspended int      `json:"suspended"`
	Errors    []string `json:"errors,omitempty"`
}
