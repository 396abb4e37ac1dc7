package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vozlab.mx/conversa/internal/model"
)

type interactionStore struct {
	pool *pgxpool.Pool
}

func newInteractionStore(pool *pgxpool.Pool) InteractionStore {
	return &interactionStore{pool: pool}
}

func (s *interactionStore) Create(ctx context.Context, interaction *model.Interaction) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO interactions (id, brand_id, user_id, kind, user_text, reply_text)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		interaction.ID, interaction.BrandID, interaction.UserID,
		string(interaction.Kind), interaction.UserText, interaction.ReplyText)
	return row.Scan(&interaction.CreatedAt)
}

func (s *interactionStore) ListByUser(ctx context.Context, brandID int64, userID string, limit int32) ([]model.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, user_id, kind, user_text, reply_text, created_at
		FROM interactions
		WHERE brand_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		brandID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var interactions []model.Interaction
	for rows.Next() {
		var it model.Interaction
		var kind string
		if err := rows.Scan(&it.ID, &it.BrandID, &it.UserID, &kind, &it.UserText, &it.ReplyText, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Kind = model.InteractionKind(kind)
		interactions = append(interactions, it)
	}
	return interactions, rows.Err()
}

func (s *interactionStore) CountSince(ctx context.Context, brandID int64, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM interactions WHERE brand_id = $1 AND created_at >= $2`,
		brandID, since).Scan(&count)
	return count, err
}
