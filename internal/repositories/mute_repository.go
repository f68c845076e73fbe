package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"voxa-chat/internal/models"
)

// MuteRepository manages the muted user list.
type MuteRepository interface {
	Mute(ctx context.Context, userID, mutedBy uuid.UUID) error
	Unmute(ctx context.Context, userID uuid.UUID) error
	ListMutes(ctx context.Context) ([]models.Mute, error)
}

// MuteRepo is a sqlx implementation of MuteRepository.
type MuteRepo struct {
	db *sqlx.DB
}

// NewMuteRepo constructs a MuteRepo.
func NewMuteRepo(db *sqlx.DB) *MuteRepo {
	return &MuteRepo{db: db}
}

// Mute is idempotent; muting a muted user keeps the first record.
func (r *MuteRepo) Mute(ctx context.Context, userID, mutedBy uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO muted_users (user_id, muted_by) VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING`, userID, mutedBy)
	return err
}

func (r *MuteRepo) Unmute(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM muted_users WHERE user_id = $1`, userID)
	return err
}

// ListMutes returns every active mute, newest first.
func (r *MuteRepo) ListMutes(ctx context.Context) ([]models.Mute, error) {
	var mutes []models.Mute
	err := r.db.SelectContext(ctx, &mutes, `SELECT user_id, muted_by, created_at FROM muted_users ORDER BY created_at DESC`)
	return mutes, err
}
