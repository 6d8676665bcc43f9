package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type departmentRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (r departmentRequest) validate() (string, *string, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return "", nil, badRequest("invalid_name", "Department name is required")
	}
	return name, trimmedOrNil(r.Description), nil
}

func (a *App) publicDepartmentsHandler(c *gin.Context) {
	departments, err := a.listDepartments(c.Request.Context())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	for i := range departments {
		departments[i].CreatedBy = nil
		departments[i].CreatedByName = nil
	}
	c.JSON(http.StatusOK, departments)
}

func (a *App) adminDepartmentsHandler(c *gin.Context) {
	departments, err := a.listDepartments(c.Request.Context())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, departments)
}

func (a *App) createDepartmentHandler(c *gin.Context) {
	var req departmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid department payload"))
		return
	}
	name, description, err := req.validate()
	if err != nil {
		writeAPIError(c, err)
		return
	}

	auth, _ := getAuthContext(c)
	creator := auth.ProfileID
	department, err := a.createDepartment(c.Request.Context(), name, description, &creator)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("department created", "department_id", department.ID, "name", department.Name, "actor", creator)
	c.JSON(http.StatusCreated, department)
}

func (a *App) updateDepartmentHandler(c *gin.Context) {
	departmentID, err := parsePositiveIDParam(c, "id", "Invalid department ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var req departmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid department payload"))
		return
	}
	name, description, err := req.validate()
	if err != nil {
		writeAPIError(c, err)
		return
	}

	department, err := a.updateDepartment(c.Request.Context(), departmentID, name, description)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, department)
}

func (a *App) deleteDepartmentHandler(c *gin.Context) {
	departmentID, err := parsePositiveIDParam(c, "id", "Invalid department ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if err := a.deleteDepartment(c.Request.Context(), departmentID); err != nil {
		writeAPIError(c, err)
		return
	}
	auth, _ := getAuthContext(c)
	a.log.Info("department deleted", "department_id", departmentID, "actor", auth.ProfileID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *App) listCategoriesHandler(c *gin.Context) {
	departmentID, err := parsePositiveIDParam(c, "id", "Invalid department ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	categories, err := a.listDepartmentCategories(c.Request.Context(), departmentID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"department_id": departmentID, "categories": categories})
}

func (a *App) addCategoryHandler(c *gin.Context) {
	departmentID, err := parsePositiveIDParam(c, "id", "Invalid department ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var req struct {
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid category payload"))
		return
	}
	category := normalizeTag(req.Category)
	if category == "" {
		writeAPIError(c, badRequest("invalid_category", "Category is required"))
		return
	}

	if err := a.addDepartmentCategory(c.Request.Context(), departmentID, category); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"department_id": departmentID, "category": category})
}

func (a *App) deleteCategoryHandler(c *gin.Context) {
	departmentID, err := parsePositiveIDParam(c, "id", "Invalid department ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	category := normalizeTag(c.Query("category"))
	if category == "" {
		writeAPIError(c, badRequest("invalid_category", "category query parameter is required"))
		return
	}
	if err := a.removeDepartmentCategory(c.Request.Context(), departmentID, category); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
