package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (a *App) listDepartments(ctx context.Context) ([]Department, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			departments.id,
			departments.name,
			departments.description,
			departments.created_by::text,
			COALESCE(creator.display_name, creator.email),
			departments.created_at,
			(
				SELECT COUNT(*)
				FROM assignments
				JOIN issues ON issues.id = assignments.issue_id
				WHERE assignments.department_id = departments.id AND issues.status <> 'closed'
			) AS active_assignments
		FROM departments
		LEFT JOIN profiles creator ON creator.id = departments.created_by
		ORDER BY departments.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	departments := make([]Department, 0)
	for rows.Next() {
		var (
			department  Department
			description sql.NullString
			createdBy   sql.NullString
			creatorName sql.NullString
			createdAt   time.Time
		)
		if err := rows.Scan(&department.ID, &department.Name, &description, &createdBy, &creatorName, &createdAt, &department.ActiveAssignments); err != nil {
			return nil, err
		}
		department.Description = nullStringPtr(description)
		department.CreatedBy = nullStringPtr(createdBy)
		department.CreatedByName = nullStringPtr(creatorName)
		department.CreatedAt = formatTimestamp(createdAt)
		department.Categories = []string{}
		departments = append(departments, department)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(departments) == 0 {
		return departments, nil
	}

	categories, err := a.listAllDepartmentCategories(ctx)
	if err != nil {
		return nil, err
	}
	for i := range departments {
		if list, ok := categories[departments[i].ID]; ok {
			departments[i].Categories = list
		}
	}
	return departments, nil
}

func (a *App) listAllDepartmentCategories(ctx context.Context) (map[int][]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT department_id, category FROM department_categories ORDER BY department_id, category`)
	if err != nil {
		return nil, fmt.Errorf("list department categories: %w", err)
	}
	defer rows.Close()

	byDepartment := make(map[int][]string)
	for rows.Next() {
		var departmentID int
		var category string
		if err := rows.Scan(&departmentID, &category); err != nil {
			return nil, err
		}
		byDepartment[departmentID] = append(byDepartment[departmentID], category)
	}
	return byDepartment, rows.Err()
}

func (a *App) createDepartment(ctx context.Context, name string, description *string, createdBy *string) (*Department, error) {
	department := Department{Name: name, Description: description, CreatedBy: createdBy, Categories: []string{}}
	var createdAt time.Time
	err := a.db.QueryRowContext(ctx, `
		INSERT INTO departments (name, description, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, name, description, createdBy).Scan(&department.ID, &createdAt)
	if isUniqueViolation(err) {
		return nil, conflict("already_exists", "Department already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("insert department: %w", err)
	}
	department.CreatedAt = formatTimestamp(createdAt)
	return &department, nil
}

func (a *App) updateDepartment(ctx context.Context, id int, name string, description *string) (*Department, error) {
	department := Department{ID: id, Name: name, Description: description, Categories: []string{}}
	var createdAt time.Time
	err := a.db.QueryRowContext(ctx, `
		UPDATE departments SET name = $1, description = $2
		WHERE id = $3
		RETURNING created_at
	`, name, description, id).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, notFound("department_not_found", "Department not found")
	case isUniqueViolation(err):
		return nil, conflict("already_exists", "Department already exists")
	case err != nil:
		return nil, fmt.Errorf("update department %d: %w", id, err)
	}
	department.CreatedAt = formatTimestamp(createdAt)
	return &department, nil
}

// deleteDepartment refuses while any open issue is assigned to the department.
// Assignments of closed issues cascade with the department.
func (a *App) deleteDepartment(ctx context.Context, id int) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin department delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID int
	err = tx.QueryRowContext(ctx, `SELECT id FROM departments WHERE id = $1 FOR UPDATE`, id).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("department_not_found", "Department not found")
	}
	if err != nil {
		return fmt.Errorf("lock department %d: %w", id, err)
	}

	var active int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM assignments
		JOIN issues ON issues.id = assignments.issue_id
		WHERE assignments.department_id = $1 AND issues.status <> 'closed'
	`, id).Scan(&active); err != nil {
		return fmt.Errorf("count department assignments: %w", err)
	}
	if active > 0 {
		return conflict("department_in_use", fmt.Sprintf("Cannot delete department with %d active assignments", active))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete department %d: %w", id, err)
	}
	return tx.Commit()
}

func (a *App) departmentExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	if err := a.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM departments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check department %d: %w", id, err)
	}
	return exists, nil
}

func (a *App) listDepartmentCategories(ctx context.Context, departmentID int) ([]string, error) {
	exists, err := a.departmentExists(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound("department_not_found", "Department not found")
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT category FROM department_categories
		WHERE department_id = $1
		ORDER BY category
	`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (a *App) addDepartmentCategory(ctx context.Context, departmentID int, category string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO department_categories (department_id, category)
		VALUES ($1, $2)
	`, departmentID, category)
	switch {
	case isUniqueViolation(err):
		return conflict("already_exists", "Category already exists")
	case isForeignKeyViolation(err):
		return notFound("department_not_found", "Department not found")
	case err != nil:
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (a *App) removeDepartmentCategory(ctx context.Context, departmentID int, category string) error {
	result, err := a.db.ExecContext(ctx, `
		DELETE FROM department_categories
		WHERE department_id = $1 AND category = $2
	`, departmentID, category)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound("category_not_found", "Category not found")
	}
	return nil
}
