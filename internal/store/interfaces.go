package store

import (
	"context"
	"errors"
	"time"

	"vozlab.mx/conversa/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// BrandStore defines the contract for brand persona data access
type BrandStore interface {
	GetByKey(ctx context.Context, key string) (*model.Brand, error)
	List(ctx context.Context) ([]model.Brand, error)
	Create(ctx context.Context, brand *model.Brand) error
	Update(ctx context.Context, brand *model.Brand) error
}

// InteractionStore defines the contract for the per-turn audit log
type InteractionStore interface {
	Create(ctx context.Context, interaction *model.Interaction) error
	ListByUser(ctx context.Context, brandID int64, userID string, limit int32) ([]model.Interaction, error)
	CountSince(ctx context.Context, brandID int64, since time.Time) (int64, error)
}

// BookingStore defines the contract for confirmed calendar bookings
type BookingStore interface {
	Create(ctx context.Context, booking *model.Booking) error
	GetByInviteeURI(ctx context.Context, inviteeURI string) (*model.Booking, error)
	ListByUser(ctx context.Context, brandID int64, userID string) ([]model.Booking, error)
	Cancel(ctx context.Context, id int64) error
}
