package services

import (
	"context"
	"errors"

	"linguachat-backend/internal/db"
	"linguachat-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RoomService struct{}

func NewRoomService() *RoomService {
	return &RoomService{}
}

// GetOrCreateDirectRoom returns the direct room for a user pair,
// creating it if absent. At most one direct room exists per unordered
// pair.
func (s *RoomService) GetOrCreateDirectRoom(ctx context.Context, userID1, userID2 int) (*models.RoomResponse, error) {
	query := `
		SELECT r.id
		FROM rooms r
		JOIN group_members p1 ON r.id = p1.group_id
		JOIN group_members p2 ON r.id = p2.group_id
		WHERE r.is_group = false
		AND p1.user_id = $1
		AND p2.user_id = $2
		LIMIT 1
	`
	var roomID string
	err := db.Pool.QueryRow(ctx, query, userID1, userID2).Scan(&roomID)
	if err == nil {
		return &models.RoomResponse{RoomID: roomID, IsNew: false}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	newRoomID := uuid.New().String()
	_, err = tx.Exec(ctx, "INSERT INTO rooms (id, is_group) VALUES ($1, false)", newRoomID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'member'), ($1, $3, 'member')",
		newRoomID, userID1, userID2)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &models.RoomResponse{RoomID: newRoomID, IsNew: true}, nil
}

// CreateGroupRoom creates a group room with the creator as admin.
func (s *RoomService) CreateGroupRoom(ctx context.Context, creatorID int, name string, memberIDs []int) (*models.RoomResponse, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	roomID := uuid.New().String()
	_, err = tx.Exec(ctx, "INSERT INTO rooms (id, name, is_group) VALUES ($1, $2, true)", roomID, name)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'admin')",
		roomID, creatorID)
	if err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if id == creatorID {
			continue
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'member') ON CONFLICT DO NOTHING",
			roomID, id)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &models.RoomResponse{RoomID: roomID, IsNew: true}, nil
}

// Rooms returns every room the user belongs to, newest first.
func (s *RoomService) Rooms(ctx context.Context, userID int) ([]models.Room, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at
		FROM rooms r
		JOIN group_members gm ON gm.group_id = r.id
		WHERE gm.user_id = $1
		ORDER BY r.created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// IsMember reports whether the user has a membership in the room.
func (s *RoomService) IsMember(ctx context.Context, roomID string, userID int) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)",
		roomID, userID).Scan(&exists)
	return exists, err
}

// Members returns the room's full membership joined with the profile
// fields the notification fan-out needs.
func (s *RoomService) Members(ctx context.Context, roomID string) ([]models.Member, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT gm.user_id, u.username, gm.role, gm.preferred_language, u.native_language, u.push_token, gm.joined_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1`,
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.Role, &m.PreferredLanguage, &m.NativeLanguage, &m.PushToken, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteRoom removes a room; memberships and messages cascade.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string, requesterID int) error {
	var role models.Role
	err := db.Pool.QueryRow(ctx,
		"SELECT role FROM group_members WHERE group_id = $1 AND user_id = $2",
		roomID, requesterID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotMember
	}
	if err != nil {
		return err
	}
	if role != models.RoleAdmin {
		return ErrNotOwner
	}
	_, err = db.Pool.Exec(ctx, "DELETE FROM rooms WHERE id = $1", roomID)
	return err
}
