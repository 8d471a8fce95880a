package postgres

import (
	"context"

	"github.com/kodescrux/collab/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoomRepository struct {
	db *pgxpool.Pool
}

func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	query := `
		INSERT INTO rooms (id, name, host_id, language, code, max_users, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.db.QueryRow(ctx, query,
		room.ID, room.Name, room.HostID, room.Language, room.Code, room.MaxUsers, room.IsPublic,
	).Scan(&room.CreatedAt)
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	var rm domain.Room
	query := `
		SELECT id, name, host_id, language, code, max_users, is_public, created_at
		FROM rooms WHERE id=$1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rm.ID, &rm.Name, &rm.HostID, &rm.Language, &rm.Code, &rm.MaxUsers, &rm.IsPublic, &rm.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *RoomRepository) ListPublic(ctx context.Context) ([]domain.Room, error) {
	query := `
		SELECT id, name, host_id, language, code, max_users, is_public, created_at
		FROM rooms
		WHERE is_public = TRUE
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var rm domain.Room
		if err := rows.Scan(&rm.ID, &rm.Name, &rm.HostID, &rm.Language, &rm.Code,
			&rm.MaxUsers, &rm.IsPublic, &rm.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, rm)
	}
	return rooms, rows.Err()
}

func (r *RoomRepository) UpdateCode(ctx context.Context, id, code string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE rooms SET code=$2 WHERE id=$1`, id, code)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// UpdateHost records the member id that claimed the host slot. Only an
// unclaimed room is updated; ownership never transfers.
func (r *RoomRepository) UpdateHost(ctx context.Context, id, hostID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE rooms SET host_id=$2 WHERE id=$1 AND host_id=''`, id, hostID)
	return err
}

func (r *RoomRepository) UpdateLanguage(ctx context.Context, id, language string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE rooms SET language=$2 WHERE id=$1`, id, language)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id=$1`, id)
	return err
}
