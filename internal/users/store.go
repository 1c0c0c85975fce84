package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"resonate/api/internal/store"
)

var (
	ErrUsernameTaken    = errors.New("username already taken")
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyFavorited = errors.New("track already favorited")
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveUsername registers or updates the username for a user. Usernames are
// globally unique across users.
func (s *Store) SaveUsername(ctx context.Context, userID, username string) (User, error) {
	const findTaken = `SELECT user_id FROM usernames WHERE username = $1`
	var ownerID string
	err := s.db.QueryRowContext(ctx, findTaken, username).Scan(&ownerID)
	if err == nil && ownerID != userID {
		return User{}, ErrUsernameTaken
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("check username: %w", err)
	}

	const upsert = `
		INSERT INTO usernames (user_id, username, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username
		RETURNING user_id, username, created_at`
	var user User
	if err := s.db.QueryRowContext(ctx, upsert, userID, username).Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("save username: %w", err)
	}
	return user, nil
}

// GetUser looks up a user's profile. Returns ErrNotFound for unknown ids.
func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	const query = `SELECT user_id, username, created_at FROM usernames WHERE user_id = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// AddFavorite stores a track in the user's favorites. Favorites are
// deduplicated by (url, title) — the track identity rule — so re-favoriting
// the same track fails with ErrAlreadyFavorited.
func (s *Store) AddFavorite(ctx context.Context, userID string, item store.Item) (store.Item, error) {
	if !store.IsMediaURL(item.URL) {
		return store.Item{}, store.ErrInvalidMediaURL
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}

	const insert = `
		INSERT INTO favorites (user_id, url, title, channel, thumbnail, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, url, title) DO NOTHING`
	res, err := s.db.ExecContext(ctx, insert, userID, item.URL, item.Title, item.Channel, item.Thumbnail, item.AddedBy, item.AddedAt)
	if err != nil {
		return store.Item{}, fmt.Errorf("add favorite: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return store.Item{}, ErrAlreadyFavorited
	}
	return item, nil
}

// RemoveFavorite deletes one favorite by track identity.
func (s *Store) RemoveFavorite(ctx context.Context, userID, url, title string) error {
	const del = `DELETE FROM favorites WHERE user_id = $1 AND url = $2 AND title = $3`
	if _, err := s.db.ExecContext(ctx, del, userID, url, title); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// ListFavorites returns the user's favorites, oldest first.
func (s *Store) ListFavorites(ctx context.Context, userID string) ([]store.Item, error) {
	const query = `
		SELECT url, title, channel, thumbnail, added_by, added_at
		FROM favorites WHERE user_id = $1 ORDER BY added_at ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	favorites := []store.Item{}
	for rows.Next() {
		var item store.Item
		if err := rows.Scan(&item.URL, &item.Title, &item.Channel, &item.Thumbnail, &item.AddedBy, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return favorites, nil
}

// IsFavorited reports whether the user already favorited this track.
func (s *Store) IsFavorited(ctx context.Context, userID, url, title string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id = $1 AND url = $2 AND title = $3)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, url, title).Scan(&exists); err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return exists, nil
}
