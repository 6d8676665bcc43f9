package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const announcementSelect = `
	SELECT
		announcements.id,
		announcements.title,
		announcements.content,
		announcements.type,
		announcements.priority,
		announcements.department_id,
		departments.name,
		announcements.is_active,
		announcements.expires_at,
		announcements.created_by::text,
		COALESCE(creator.display_name, creator.email),
		announcements.created_at,
		announcements.updated_at
	FROM announcements
	LEFT JOIN departments ON departments.id = announcements.department_id
	LEFT JOIN profiles creator ON creator.id = announcements.created_by
`

const announcementPriorityRank = `
	CASE announcements.priority
		WHEN 'urgent' THEN 4
		WHEN 'high' THEN 3
		WHEN 'normal' THEN 2
		ELSE 1
	END`

type announcementInput struct {
	Title        string
	Content      string
	Type         string
	Priority     string
	DepartmentID *int
	ExpiresAt    *time.Time
	CreatedBy    string
}

func scanAnnouncement(row rowScanner) (*Announcement, error) {
	var (
		announcement   Announcement
		departmentID   sql.NullInt64
		departmentName sql.NullString
		expiresAt      sql.NullTime
		createdBy      sql.NullString
		creatorName    sql.NullString
		createdAt      time.Time
		updatedAt      time.Time
	)
	if err := row.Scan(
		&announcement.ID,
		&announcement.Title,
		&announcement.Content,
		&announcement.Type,
		&announcement.Priority,
		&departmentID,
		&departmentName,
		&announcement.IsActive,
		&expiresAt,
		&createdBy,
		&creatorName,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	announcement.DepartmentID = nullIntPtr(departmentID)
	announcement.DepartmentName = nullStringPtr(departmentName)
	announcement.ExpiresAt = nullTimePtr(expiresAt)
	announcement.CreatedBy = nullStringPtr(createdBy)
	announcement.CreatedByName = nullStringPtr(creatorName)
	announcement.CreatedAt = formatTimestamp(createdAt)
	announcement.UpdatedAt = formatTimestamp(updatedAt)
	return &announcement, nil
}

func (a *App) queryAnnouncements(ctx context.Context, query string, args ...any) ([]Announcement, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	announcements := make([]Announcement, 0)
	for rows.Next() {
		announcement, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		announcements = append(announcements, *announcement)
	}
	return announcements, rows.Err()
}

// listPublicAnnouncements returns active, unexpired announcements, most urgent first.
func (a *App) listPublicAnnouncements(ctx context.Context, limit int) ([]Announcement, error) {
	return a.queryAnnouncements(ctx, announcementSelect+`
		WHERE announcements.is_active
		  AND (announcements.expires_at IS NULL OR announcements.expires_at > NOW())
		ORDER BY`+announcementPriorityRank+` DESC, announcements.created_at DESC
		LIMIT $1
	`, limit)
}

func (a *App) listAllAnnouncements(ctx context.Context) ([]Announcement, error) {
	return a.queryAnnouncements(ctx, announcementSelect+`
		ORDER BY announcements.created_at DESC, announcements.id DESC
	`)
}

func (a *App) getAnnouncement(ctx context.Context, id int) (*Announcement, error) {
	announcement, err := scanAnnouncement(a.db.QueryRowContext(ctx, announcementSelect+` WHERE announcements.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("announcement_not_found", "Announcement not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get announcement %d: %w", id, err)
	}
	return announcement, nil
}

func (a *App) createAnnouncement(ctx context.Context, input announcementInput) (*Announcement, error) {
	var id int
	err := a.db.QueryRowContext(ctx, `
		INSERT INTO announcements (title, content, type, priority, department_id, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, input.Title, input.Content, input.Type, input.Priority, input.DepartmentID, input.ExpiresAt, input.CreatedBy).Scan(&id)
	if isForeignKeyViolation(err) {
		return nil, notFound("department_not_found", "Department not found")
	}
	if err != nil {
		return nil, fmt.Errorf("insert announcement: %w", err)
	}
	return a.getAnnouncement(ctx, id)
}

func (a *App) setAnnouncementActive(ctx context.Context, id int, active bool) (*Announcement, error) {
	result, err := a.db.ExecContext(ctx, `
		UPDATE announcements SET is_active = $1, updated_at = NOW()
		WHERE id = $2
	`, active, id)
	if err != nil {
		return nil, fmt.Errorf("update announcement %d: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, notFound("announcement_not_found", "Announcement not found")
	}
	return a.getAnnouncement(ctx, id)
}

func (a *App) deleteAnnouncement(ctx context.Context, id int) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete announcement %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound("announcement_not_found", "Announcement not found")
	}
	return nil
}
