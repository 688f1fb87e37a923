package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Relationship classifiers for profiles.
const (
	RelationshipOrdinary   = "ordinary"
	RelationshipPrivileged = "privileged"
)

// Profile is one row per user identity. Created lazily on first contact,
// updated thereafter, never deleted.
type Profile struct {
	UserID       int64
	Name         string // self-reported display name, learned from chat
	Username     string // platform handle
	FirstName    string // platform-supplied name field
	Notes        string
	Relationship string
	UpdatedAt    time.Time
}

// GetProfile returns the profile for userID, or nil when the user has never
// been seen.
func (s *Store) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	var p *Profile
	err := s.withRepair(ctx, "get profile", func() error {
		var (
			row                                 Profile
			name, username, firstName, notes    sql.NullString
			relationship                        sql.NullString
			updatedAt                           int64
		)
		qErr := s.db.QueryRowContext(ctx,
			`SELECT user_id, name, username, first_name, notes, relationship, updated_at
			 FROM profiles WHERE user_id = ?`,
			userID,
		).Scan(&row.UserID, &name, &username, &firstName, &notes, &relationship, &updatedAt)
		if errors.Is(qErr, sql.ErrNoRows) {
			p = nil
			return nil
		}
		if qErr != nil {
			return qErr
		}
		row.Name = name.String
		row.Username = username.String
		row.FirstName = firstName.String
		row.Notes = notes.String
		row.Relationship = relationship.String
		if row.Relationship == "" {
			row.Relationship = RelationshipOrdinary
		}
		row.UpdatedAt = time.Unix(updatedAt, 0)
		p = &row
		return nil
	})
	return p, err
}

// TouchProfile records first contact with a user: creates the profile when
// missing and refreshes the platform-supplied name fields when present.
// The self-reported name and relationship are left alone.
func (s *Store) TouchProfile(ctx context.Context, userID int64, username, firstName string) error {
	return s.withRepair(ctx, "touch profile", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, username, first_name, relationship, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				username   = CASE WHEN excluded.username   != '' THEN excluded.username   ELSE profiles.username   END,
				first_name = CASE WHEN excluded.first_name != '' THEN excluded.first_name ELSE profiles.first_name END,
				updated_at = excluded.updated_at`,
			userID, username, firstName, RelationshipOrdinary, time.Now().Unix(),
		)
		return err
	})
}

// SetProfileName records a self-reported display name.
func (s *Store) SetProfileName(ctx context.Context, userID int64, name string) error {
	return s.withRepair(ctx, "set profile name", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, name, relationship, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				name = excluded.name, updated_at = excluded.updated_at`,
			userID, name, RelationshipOrdinary, time.Now().Unix(),
		)
		return err
	})
}

// SetRelationship updates a user's relationship classifier.
func (s *Store) SetRelationship(ctx context.Context, userID int64, relationship string) error {
	return s.withRepair(ctx, "set relationship", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, relationship, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				relationship = excluded.relationship, updated_at = excluded.updated_at`,
			userID, relationship, time.Now().Unix(),
		)
		return err
	})
}

// SeedPrivileged marks the given user ids as privileged. Run at startup so
// operator-configured relationships survive database resets.
func (s *Store) SeedPrivileged(ctx context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if err := s.SetRelationship(ctx, id, RelationshipPrivileged); err != nil {
			return err
		}
	}
	return nil
}
