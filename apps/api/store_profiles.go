package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type profileFilters struct {
	Role string
	Q    string
}

// profileUpdate leaves nil fields unchanged. DepartmentID 0 clears the affiliation.
type profileUpdate struct {
	Role         *string
	DepartmentID *int
	DisplayName  *string
	IsActive     *bool
}

const profileColumns = `
	profiles.id::text,
	profiles.email,
	profiles.role,
	profiles.display_name,
	profiles.department_id,
	profiles.is_active,
	(SELECT COUNT(*) FROM issues WHERE issues.reporter_id = profiles.id) AS issue_count,
	profiles.created_at,
	profiles.updated_at
`

func scanProfile(row rowScanner, extra ...any) (*Profile, error) {
	var (
		profile      Profile
		displayName  sql.NullString
		departmentID sql.NullInt64
		createdAt    time.Time
		updatedAt    time.Time
	)
	dest := []any{
		&profile.ID,
		&profile.Email,
		&profile.Role,
		&displayName,
		&departmentID,
		&profile.IsActive,
		&profile.IssueCount,
		&createdAt,
		&updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	profile.DisplayName = nullStringPtr(displayName)
	profile.DepartmentID = nullIntPtr(departmentID)
	profile.CreatedAt = formatTimestamp(createdAt)
	profile.UpdatedAt = formatTimestamp(updatedAt)
	return &profile, nil
}

func buildProfileWhereClause(f profileFilters) (string, []any) {
	where := []string{}
	args := []any{}

	if f.Role != "" {
		where = append(where, fmt.Sprintf("profiles.role = $%d", len(args)+1))
		args = append(args, f.Role)
	}
	if f.Q != "" {
		n := len(args) + 1
		where = append(where, fmt.Sprintf("(profiles.email ILIKE $%d OR profiles.display_name ILIKE $%d)", n, n))
		args = append(args, "%"+escapeLikePattern(f.Q)+"%")
	}

	return strings.Join(where, " AND "), args
}

func (a *App) listProfiles(ctx context.Context, f profileFilters, limit, offset int) ([]Profile, int, error) {
	query := `SELECT` + profileColumns + `, COUNT(*) OVER() AS total_count FROM profiles`
	whereClause, args := buildProfileWhereClause(f)
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	query += " ORDER BY profiles.created_at DESC, profiles.email ASC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []Profile{}
	total := 0
	for rows.Next() {
		profile, err := scanProfile(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		profiles = append(profiles, *profile)
	}
	return profiles, total, rows.Err()
}

func (a *App) getProfileByID(ctx context.Context, id string) (*Profile, error) {
	profile, err := scanProfile(a.db.QueryRowContext(ctx, `SELECT`+profileColumns+`FROM profiles WHERE profiles.id = $1::uuid`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return profile, nil
}

// loadAuthContext returns nil when the profile is gone or deactivated.
func (a *App) loadAuthContext(ctx context.Context, profileID string) (*AuthContext, error) {
	var (
		auth         AuthContext
		displayName  sql.NullString
		departmentID sql.NullInt64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id::text, email, role, display_name, department_id
		FROM profiles
		WHERE id = $1::uuid AND is_active
	`, profileID).Scan(&auth.ProfileID, &auth.Email, &auth.Role, &displayName, &departmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auth context: %w", err)
	}
	auth.DisplayName = nullStringPtr(displayName)
	auth.DepartmentID = nullIntPtr(departmentID)
	return &auth, nil
}

func invalidCredentials() *apiError {
	return &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
}

// authenticateCredentials checks an email/password pair and returns the profile id.
func (a *App) authenticateCredentials(ctx context.Context, email, password string) (string, error) {
	var (
		profileID    string
		passwordHash sql.NullString
		isActive     bool
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id::text, password_hash, is_active
		FROM profiles
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&profileID, &passwordHash, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return "", invalidCredentials()
	}
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if !passwordHash.Valid || !isActive || bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(password)) != nil {
		return "", invalidCredentials()
	}
	return profileID, nil
}

func (a *App) createCitizenProfile(ctx context.Context, email, password string, displayName *string) (*Profile, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	var id string
	err = a.db.QueryRowContext(ctx, `
		INSERT INTO profiles (email, password_hash, role, display_name)
		VALUES ($1, $2, 'citizen', $3)
		RETURNING id::text
	`, email, string(hash), displayName).Scan(&id)
	if isUniqueViolation(err) {
		return nil, conflict("already_exists", "An account with this email already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return a.getProfileByID(ctx, id)
}

func (a *App) updateProfile(ctx context.Context, id string, update profileUpdate) (*Profile, error) {
	var updatedID string
	err := a.db.QueryRowContext(ctx, `
		UPDATE profiles SET
			role = COALESCE($2, role),
			department_id = CASE WHEN $3::int = 0 THEN NULL ELSE COALESCE($3::int, department_id) END,
			display_name = COALESCE($4, display_name),
			is_active = COALESCE($5, is_active),
			updated_at = NOW()
		WHERE id = $1::uuid
		RETURNING id::text
	`, id, update.Role, update.DepartmentID, update.DisplayName, update.IsActive).Scan(&updatedID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, notFound("user_not_found", "User not found")
	case isForeignKeyViolation(err):
		return nil, notFound("department_not_found", "Department not found")
	case err != nil:
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}
	return a.getProfileByID(ctx, updatedID)
}

// deleteProfile removes the profile together with its votes. Issues and
// history keep their rows with the profile reference cleared.
func (a *App) deleteProfile(ctx context.Context, id string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Signed-in votes also carry the voter hash, so a nulled voter_id could collide with an anonymous vote.
	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE voter_id = $1::uuid`, id); err != nil {
		return fmt.Errorf("delete votes of profile %s: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1::uuid`, id)
	if isUniqueViolation(err) {
		return conflict("user_in_use", "User still has conflicting records")
	}
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound("user_not_found", "User not found")
	}
	return tx.Commit()
}
