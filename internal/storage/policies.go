package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// GetPolicy returns the stored policy for a role.
// Callers fall back to model.ConservativeDefaultPolicy on ErrNotFound.
func (db *DB) GetPolicy(ctx context.Context, role model.Role) (model.Policy, error) {
	var doc []byte
	err := db.pool.QueryRow(ctx,
		`SELECT doc FROM policies WHERE role = $1`, string(role),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Policy{}, fmt.Errorf("storage: policy for role %q: %w", role, ErrNotFound)
		}
		return model.Policy{}, fmt.Errorf("storage: get policy: %w", err)
	}

	var p model.Policy
	if err := json.Unmarshal(doc, &p); err != nil {
		return model.Policy{}, fmt.Errorf("storage: unmarshal policy: %w", err)
	}
	p.Role = role
	return p, nil
}

// UpsertPolicy stores the policy document for a role.
func (db *DB) UpsertPolicy(ctx context.Context, p model.Policy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage: marshal policy: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO policies (role, doc, updated_at) VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (role) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		string(p.Role), doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert policy: %w", err)
	}
	return nil
}
