package booking

import (
	"context"
	"time"
)

// TravelCache caches ListTravelsForOwner results. The engine invalidates an
// owner's entry after every travel write.
//
// Each owner has a generation that InvalidateOwner advances. The engine reads
// it before loading travels from the store and hands it back to
// SetOwnerTravels, which must discard the list when the generation has moved
// on: the list may predate the invalidating write.
type TravelCache interface {
	OwnerTravels(ctx context.Context, ownerID string) ([]Travel, bool, error)
	Generation(ctx context.Context, ownerID string) (int64, error)
	SetOwnerTravels(ctx context.Context, ownerID string, gen int64, travels []Travel) error
	InvalidateOwner(ctx context.Context, ownerID string) error
}

// Event names.
const (
	EventTravelCreated  = "travel.created"
	EventTravelUpdated  = "travel.updated"
	EventTravelDeleted  = "travel.deleted"
	EventServiceCreated = "service.created"
	EventServiceDeleted = "service.deleted"
	EventUserRegistered = "user.registered"
	EventUserRemoved    = "user.removed"
)

// Event describes a committed write.
type Event struct {
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	OwnerID  string    `json:"ownerId,omitempty"`
	TravelID string    `json:"travelId,omitempty"`
	At       time.Time `json:"at"`

	ServicesDeleted int `json:"servicesDeleted,omitempty"`
	ServicesFailed  int `json:"servicesFailed,omitempty"`
}

// Publisher delivers events to other systems.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
