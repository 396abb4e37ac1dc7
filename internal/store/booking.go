package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vozlab.mx/conversa/internal/model"
)

type bookingStore struct {
	pool *pgxpool.Pool
}

func newBookingStore(pool *pgxpool.Pool) BookingStore {
	return &bookingStore{pool: pool}
}

func (s *bookingStore) Create(ctx context.Context, booking *model.Booking) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO bookings (id, brand_id, user_id, event_uri, invitee_uri, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (invitee_uri) DO UPDATE SET status = EXCLUDED.status
		RETURNING id, created_at`,
		booking.ID, booking.BrandID, booking.UserID, booking.EventURI,
		booking.InviteeURI, booking.Start, booking.End, string(booking.Status))
	return row.Scan(&booking.ID, &booking.CreatedAt)
}

func (s *bookingStore) GetByInviteeURI(ctx context.Context, inviteeURI string) (*model.Booking, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, user_id, event_uri, invitee_uri, start_time, end_time, status, created_at
		FROM bookings WHERE invitee_uri = $1`, inviteeURI)

	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return booking, nil
}

func (s *bookingStore) ListByUser(ctx context.Context, brandID int64, userID string) ([]model.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, user_id, event_uri, invitee_uri, start_time, end_time, status, created_at
		FROM bookings
		WHERE brand_id = $1 AND user_id = $2
		ORDER BY start_time`,
		brandID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *booking)
	}
	return bookings, rows.Err()
}

func (s *bookingStore) Cancel(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET status = $2 WHERE id = $1`,
		id, string(model.BookingStatusCanceled))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	var status string
	err := row.Scan(&b.ID, &b.BrandID, &b.UserID, &b.EventURI, &b.InviteeURI,
		&b.Start, &b.End, &status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	return &b, nil
}
