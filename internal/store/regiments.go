package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Regiment is a Discord guild using the bot. ID is the guild id.
type Regiment struct {
	ID               string
	Name             string
	ScannerChannelID string
}

// User is a person who has signed in to the web app at least once.
type User struct {
	ID        string
	DiscordID string
	Name      string
}

// UpsertRegiment inserts the regiment or updates its name and scanner channel.
func (s *Store) UpsertRegiment(ctx context.Context, r Regiment) error {
	if r.ID == "" {
		return fmt.Errorf("regiment id must not be empty")
	}
	now := millis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regiments (discord_id, name, scanner_channel_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(discord_id) DO UPDATE SET
			name = excluded.name,
			scanner_channel_id = excluded.scanner_channel_id,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, nullString(r.ScannerChannelID), now, now)
	if err != nil {
		return fmt.Errorf("upsert regiment: %w", err)
	}
	return nil
}

// ScannerChannel returns the configured scanner channel id, or "" when the
// regiment is unknown or has none.
func (s *Store) ScannerChannel(ctx context.Context, regimentID string) (string, error) {
	var ch sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT scanner_channel_id FROM regiments WHERE discord_id = ?", regimentID).Scan(&ch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scanner channel: %w", err)
	}
	return ch.String, nil
}

// UpsertUser inserts the user or refreshes the display name.
func (s *Store) UpsertUser(ctx context.Context, u User) (User, error) {
	if u.DiscordID == "" {
		return User{}, fmt.Errorf("user discord id must not be empty")
	}
	if u.ID == "" {
		u.ID = s.newID()
	}
	now := millis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, discord_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(discord_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		u.ID, u.DiscordID, u.Name, now, now)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.UserByDiscordID(ctx, u.DiscordID)
}

// UserByDiscordID returns ErrNotFound when the Discord account never signed in.
func (s *Store) UserByDiscordID(ctx context.Context, discordID string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, discord_id, name FROM users WHERE discord_id = ?", discordID).
		Scan(&u.ID, &u.DiscordID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by discord id: %w", err)
	}
	return u, nil
}

// UserByID returns ErrNotFound for unknown internal ids.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, discord_id, name FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.DiscordID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

// ResolveUser accepts either a Discord user id or an internal user id.
// Chat transports only know the Discord id, tools created by the web app
// carry internal ids.
func (s *Store) ResolveUser(ctx context.Context, id string) (User, error) {
	u, err := s.UserByDiscordID(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return u, err
	}
	return s.UserByID(ctx, id)
}
