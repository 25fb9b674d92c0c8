package vlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Vlog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description, image_url, views, created_at, updated_at
		FROM vlogs
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query vlogs: %w", err)
	}
	defer rows.Close()

	vlogs := make([]Vlog, 0)
	for rows.Next() {
		var v Vlog
		if err := rows.Scan(&v.ID, &v.OwnerID, &v.Title, &v.Description, &v.ImageURL, &v.Views, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vlog: %w", err)
		}
		vlogs = append(vlogs, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vlogs: %w", err)
	}

	return vlogs, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Vlog, error) {
	var v Vlog
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, image_url, views, created_at, updated_at
		FROM vlogs
		WHERE id = $1
	`, id).Scan(&v.ID, &v.OwnerID, &v.Title, &v.Description, &v.ImageURL, &v.Views, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Vlog{}, err
		}
		return Vlog{}, fmt.Errorf("query vlog: %w", err)
	}

	return v, nil
}

func (r *Repository) Create(ctx context.Context, ownerID string, input VlogInput) (Vlog, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Vlog{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	v := Vlog{
		ID:          id.String(),
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		ImageURL:    input.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO vlogs (id, owner_id, title, description, image_url, views, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`, v.ID, v.OwnerID, v.Title, v.Description, v.ImageURL, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return Vlog{}, fmt.Errorf("insert vlog: %w", err)
	}

	return v, nil
}

func (r *Repository) Delete(ctx context.Context, id, ownerID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM vlogs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete vlog: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
