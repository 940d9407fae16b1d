package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"dair/api/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertUserByWallet resolves a wallet address to its user record, creating
// the user on first sight. The conflict clause relies on the unique index on
// wallet_address, so concurrent sign-ins with a new wallet settle on one row.
func (s *Store) UpsertUserByWallet(ctx context.Context, walletAddress string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, wallet_address, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		RETURNING id, wallet_address, created_at
	`, uuid.NewString(), walletAddress, time.Now().UTC())
	err := row.Scan(&user.ID, &user.WalletAddress, &user.CreatedAt)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, wallet_address, created_at
		FROM users
		WHERE id = $1
	`, userID)
	err := row.Scan(&user.ID, &user.WalletAddress, &user.CreatedAt)
	return user, err
}

func (s *Store) CreatePlace(ctx context.Context, place model.Place) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO places (id, place_name, latitude, longitude, user_id, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, place.ID, place.PlaceName, place.Latitude, place.Longitude, place.UserID, place.Disabled, place.CreatedAt)
	return err
}

// ListActivePlaces returns the caller's non-disabled places joined with their
// air-quality readings where present.
func (s *Store) ListActivePlaces(ctx context.Context, userID string) ([]model.PlaceDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.place_name, p.latitude, p.longitude, p.user_id, p.disabled, p.created_at,
		       a.id, a.aqi, a.pm25, a.pm10, a.recorded_at
		FROM places p
		LEFT JOIN air_quality a ON a.place_id = p.id
		WHERE p.user_id = $1 AND p.disabled = false
		ORDER BY p.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var places []model.PlaceDetail
	for rows.Next() {
		var detail model.PlaceDetail
		var aqID *string
		var aqi *int
		var pm25, pm10 *float64
		var recordedAt *time.Time
		if err := rows.Scan(
			&detail.ID,
			&detail.PlaceName,
			&detail.Latitude,
			&detail.Longitude,
			&detail.UserID,
			&detail.Disabled,
			&detail.CreatedAt,
			&aqID,
			&aqi,
			&pm25,
			&pm10,
			&recordedAt,
		); err != nil {
			return nil, err
		}
		if aqID != nil {
			detail.AirQuality = &model.AirQuality{
				ID:         *aqID,
				PlaceID:    detail.ID,
				AQI:        *aqi,
				PM25:       *pm25,
				PM10:       *pm10,
				RecordedAt: *recordedAt,
			}
		}
		places = append(places, detail)
	}
	return places, rows.Err()
}

// DisablePlace soft-deletes a place. Ownership is enforced by the predicate,
// not by a separate check: a wrong owner, an unknown id, and an already
// disabled place all report false.
func (s *Store) DisablePlace(ctx context.Context, placeID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE places
		SET disabled = true
		WHERE id = $1 AND user_id = $2 AND disabled = false
	`, placeID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
