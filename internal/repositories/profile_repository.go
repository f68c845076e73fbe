package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"voxa-chat/internal/models"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrUsernameTaken   = errors.New("username already taken")
)

const roleAdmin = "admin"

// ProfileRepository abstracts user profile persistence.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error)
	DisplayNames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error)
	ListProfiles(ctx context.Context) ([]models.AdminProfile, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, username string, bio *string) (models.Profile, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetProfile fetches a profile by user id.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	var profile models.Profile
	err := r.db.GetContext(ctx, &profile, `SELECT id, username, bio, created_at FROM profiles WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	return profile, err
}

// DisplayNames resolves usernames for a batch of users in one query.
func (r *ProfileRepo) DisplayNames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id.String())
	}
	var rows []struct {
		ID       uuid.UUID `db:"id"`
		Username string    `db:"username"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, username FROM profiles WHERE id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("select usernames: %w", err)
	}
	for _, row := range rows {
		names[row.ID] = row.Username
	}
	return names, nil
}

// ListProfiles returns all users with their mute state.
func (r *ProfileRepo) ListProfiles(ctx context.Context) ([]models.AdminProfile, error) {
	query := `SELECT p.id, p.username, p.bio, p.created_at, (m.user_id IS NOT NULL) AS muted
        FROM profiles p
        LEFT JOIN muted_users m ON m.user_id = p.id
        ORDER BY p.created_at DESC`
	profiles := []models.AdminProfile{}
	err := r.db.SelectContext(ctx, &profiles, query)
	return profiles, err
}

// UpdateProfile changes username and bio.
func (r *ProfileRepo) UpdateProfile(ctx context.Context, userID uuid.UUID, username string, bio *string) (models.Profile, error) {
	var profile models.Profile
	err := r.db.QueryRowxContext(ctx, `UPDATE profiles SET username = $2, bio = COALESCE($3, bio) WHERE id = $1
        RETURNING id, username, bio, created_at`, userID, username, bio).StructScan(&profile)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	if isUniqueViolation(err) {
		return models.Profile{}, ErrUsernameTaken
	}
	return profile, err
}

// DeleteUser removes a profile; messages, memberships and mutes cascade.
func (r *ProfileRepo) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// IsAdmin reports whether the user holds the admin role.
func (r *ProfileRepo) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var admin bool
	err := r.db.GetContext(ctx, &admin, `SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`, userID, roleAdmin)
	return admin, err
}
