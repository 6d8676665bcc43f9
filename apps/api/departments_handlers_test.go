package main

import (
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDepartment(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPost, "/api/v1/admin/departments", map[string]any{
		"name":        "  Sanitation ",
		"description": " Waste collection ",
	}), "admin")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO departments (name, description, created_by)")).
		WithArgs("Sanitation", "Waste collection", testAdminID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, testCreatedAt))

	rec := serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var department Department
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &department))
	assert.Equal(t, 5, department.ID)
	assert.Equal(t, "Sanitation", department.Name)
	assert.Equal(t, []string{}, department.Categories)
}

func TestCreateDepartmentDuplicateNameConflicts(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPost, "/api/v1/admin/departments", map[string]any{"name": "Sanitation"}), "admin")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO departments")).
		WillReturnError(pgError(pgUniqueViolation, "departments_name_key"))

	rec := serve(router, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", decodeJSON(t, rec)["error"])
}

func TestCreateDepartmentRequiresAdmin(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPost, "/api/v1/admin/departments", map[string]any{"name": "Parks"}), "official")
	rec := serve(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateDepartment(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPut, "/api/v1/admin/departments/5", map[string]any{"name": "Parks"}), "admin")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE departments SET name = $1, description = $2")).
		WithArgs("Parks", nil, 5).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	rec := serve(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodPut, "/api/v1/admin/departments/5", map[string]any{"name": ""}), "admin")
	rec = serve(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func expectDepartmentDelete(mock sqlmock.Sqlmock, id int, active int) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM departments WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE assignments.department_id = $1 AND issues.status <> 'closed'")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(active))
}

func TestDeleteDepartmentInUseConflicts(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodDelete, "/api/v1/admin/departments/5", nil), "admin")
	expectDepartmentDelete(mock, 5, 2)
	mock.ExpectRollback()

	rec := serve(router, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "department_in_use", body["error"])
	assert.Equal(t, "Cannot delete department with 2 active assignments", body["message"])
}

func TestDeleteDepartment(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodDelete, "/api/v1/admin/departments/5", nil), "admin")
	expectDepartmentDelete(mock, 5, 0)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM departments WHERE id = $1")).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPublicDepartmentsHideCreator(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	mock.ExpectQuery(regexp.QuoteMeta("FROM departments")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_by", "creator_name", "created_at", "active_assignments"}).
			AddRow(1, "Public Works", nil, testAdminID, "Ada", testCreatedAt, 3).
			AddRow(2, "Sanitation", "Waste", nil, nil, testCreatedAt, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT department_id, category FROM department_categories")).
		WillReturnRows(sqlmock.NewRows([]string{"department_id", "category"}).
			AddRow(1, "pothole").
			AddRow(1, "streetlight"))

	rec := serve(router, newJSONRequest(http.MethodGet, "/api/v1/departments", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var departments []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &departments))
	require.Len(t, departments, 2)
	assert.NotContains(t, departments[0], "created_by")
	assert.Equal(t, []any{"pothole", "streetlight"}, departments[0]["categories"])
	assert.Equal(t, []any{}, departments[1]["categories"])
	assert.EqualValues(t, 3, departments[0]["active_assignments"])
}

func TestDepartmentCategories(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPost, "/api/v1/admin/departments/1/categories", map[string]any{"category": " Pothole "}), "official")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO department_categories (department_id, category)")).
		WithArgs(1, "pothole").
		WillReturnError(pgError(pgUniqueViolation, "department_categories_department_id_category_key"))
	rec := serve(router, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodPost, "/api/v1/admin/departments/9/categories", map[string]any{"category": "graffiti"}), "official")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO department_categories")).
		WithArgs(9, "graffiti").
		WillReturnError(pgError(pgForeignKeyViolation, "department_categories_department_id_fkey"))
	rec = serve(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodDelete, "/api/v1/admin/departments/1/categories?category=missing", nil), "official")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM department_categories")).
		WithArgs(1, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rec = serve(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodGet, "/api/v1/admin/departments/1/categories", nil), "official")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM departments WHERE id = $1)")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT category FROM department_categories")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"category"}).AddRow("pothole"))
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"department_id":1,"categories":["pothole"]}`, rec.Body.String())
}
