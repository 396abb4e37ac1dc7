package store

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"vozlab.mx/conversa/core/db"
)

// Stores provides typed accessors over the shared connection pool.
type Stores struct {
	pool *pgxpool.Pool
}

func NewStores(database *db.DB) *Stores {
	return &Stores{pool: database.Pool()}
}

func (s *Stores) Brands() BrandStore {
	return newBrandStore(s.pool)
}

func (s *Stores) Interactions() InteractionStore {
	return newInteractionStore(s.pool)
}

func (s *Stores) Bookings() BookingStore {
	return newBookingStore(s.pool)
}
