package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vozlab.mx/conversa/internal/model"
)

const brandColumns = `id, key, name, collection,
	persona_description, persona_greeting, persona_follow_up, persona_tone,
	persona_fallback_no_context, persona_fallback_llm_error, persona_farewell,
	persona_contact, scheduling_enabled, event_type_uri, timezone`

type brandStore struct {
	pool *pgxpool.Pool
}

func newBrandStore(pool *pgxpool.Pool) BrandStore {
	return &brandStore{pool: pool}
}

func (s *brandStore) GetByKey(ctx context.Context, key string) (*model.Brand, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+brandColumns+` FROM brands WHERE key = $1`, key)

	brand, err := scanBrand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return brand, nil
}

func (s *brandStore) List(ctx context.Context) ([]model.Brand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+brandColumns+` FROM brands ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brands []model.Brand
	for rows.Next() {
		brand, err := scanBrand(rows)
		if err != nil {
			return nil, err
		}
		brands = append(brands, *brand)
	}
	return brands, rows.Err()
}

func (s *brandStore) Create(ctx context.Context, brand *model.Brand) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brands (id, key, name, collection,
			persona_description, persona_greeting, persona_follow_up, persona_tone,
			persona_fallback_no_context, persona_fallback_llm_error, persona_farewell,
			persona_contact, scheduling_enabled, event_type_uri, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		brand.ID, brand.Key, brand.Name, brand.Collection,
		brand.Persona.Description, brand.Persona.GreetingStyle, brand.Persona.FollowUpStyle,
		brand.Persona.ToneKeywords, brand.Persona.FallbackNoContext, brand.Persona.FallbackLLMError,
		brand.Persona.Farewell, brand.Persona.ContactNotes,
		brand.SchedulingEnabled, brand.EventTypeURI, brand.Timezone)
	return err
}

func (s *brandStore) Update(ctx context.Context, brand *model.Brand) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE brands SET name = $2, collection = $3,
			persona_description = $4, persona_greeting = $5, persona_follow_up = $6,
			persona_tone = $7, persona_fallback_no_context = $8,
			persona_fallback_llm_error = $9, persona_farewell = $10,
			persona_contact = $11, scheduling_enabled = $12, event_type_uri = $13,
			timezone = $14, updated_at = now()
		WHERE id = $1`,
		brand.ID, brand.Name, brand.Collection,
		brand.Persona.Description, brand.Persona.GreetingStyle, brand.Persona.FollowUpStyle,
		brand.Persona.ToneKeywords, brand.Persona.FallbackNoContext, brand.Persona.FallbackLLMError,
		brand.Persona.Farewell, brand.Persona.ContactNotes,
		brand.SchedulingEnabled, brand.EventTypeURI, brand.Timezone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBrand(row pgx.Row) (*model.Brand, error) {
	var b model.Brand
	err := row.Scan(
		&b.ID, &b.Key, &b.Name, &b.Collection,
		&b.Persona.Description, &b.Persona.GreetingStyle, &b.Persona.FollowUpStyle,
		&b.Persona.ToneKeywords, &b.Persona.FallbackNoContext, &b.Persona.FallbackLLMError,
		&b.Persona.Farewell, &b.Persona.ContactNotes,
		&b.SchedulingEnabled, &b.EventTypeURI, &b.Timezone)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
