package store

import (
	"context"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
)

// UpsertProfile inserts or updates a user profile on successful
// token-based authentication, preserving first_login on conflict and
// refreshing last_login/role/groups/displayName.
func (s *Store) UpsertProfile(ctx context.Context, p gateway.UserProfile) error {
	_, err := s.q().Exec(ctx,
		`INSERT INTO user_profiles (user_id, email, display_name, role, department, identity_groups, first_login, last_login)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (user_id) DO UPDATE SET
		   email = EXCLUDED.email,
		   display_name = EXCLUDED.display_name,
		   role = EXCLUDED.role,
		   department = EXCLUDED.department,
		   identity_groups = EXCLUDED.identity_groups,
		   last_login = EXCLUDED.last_login`,
		p.UserID, p.Email, p.DisplayName, p.Role, p.Department, p.IdentityGroups,
		p.FirstLogin, p.LastLogin,
	)
	return err
}

// GetProfile retrieves a user profile by id, or nil if none exists.
func (s *Store) GetProfile(ctx context.Context, userID string) (*gateway.UserProfile, error) {
	var p gateway.UserProfile
	var firstLogin, lastLogin time.Time
	err := s.q().QueryRow(ctx,
		`SELECT user_id, email, display_name, role, department, identity_groups, first_login, last_login
		 FROM user_profiles WHERE user_id=$1`, userID,
	).Scan(&p.UserID, &p.Email, &p.DisplayName, &p.Role, &p.Department, &p.IdentityGroups, &firstLogin, &lastLogin)
	if err != nil {
		return nil, err
	}
	p.FirstLogin, p.LastLogin = firstLogin, lastLogin
	return &p, nil
}
