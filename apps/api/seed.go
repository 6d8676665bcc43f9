package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type departmentSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Categories  []string `yaml:"categories"`
}

type departmentSeedFile struct {
	Departments []departmentSeed `yaml:"departments"`
}

var defaultDepartmentSeeds = []departmentSeed{
	{
		Name:        "Public Works",
		Description: "Roads, sidewalks, street lighting and public infrastructure",
		Categories:  []string{"pothole", "streetlight", "sidewalk", "road damage"},
	},
	{
		Name:        "Sanitation",
		Description: "Waste collection, illegal dumping and street cleaning",
		Categories:  []string{"garbage", "illegal dumping", "overflowing bin"},
	},
	{
		Name:        "Transportation",
		Description: "Traffic signals, signage and public transit stops",
		Categories:  []string{"traffic signal", "signage", "bus stop", "parking"},
	},
	{
		Name:        "Parks & Recreation",
		Description: "Parks, playgrounds and public green spaces",
		Categories:  []string{"park", "playground", "tree", "graffiti"},
	},
	{
		Name:        "Water & Utilities",
		Description: "Water supply, drainage and sewer systems",
		Categories:  []string{"water leak", "drainage", "sewer", "flooding"},
	},
}

// loadDepartmentSeeds reads a YAML seed file, or returns the built-in
// departments when path is empty.
func loadDepartmentSeeds(path string) ([]departmentSeed, error) {
	if strings.TrimSpace(path) == "" {
		return defaultDepartmentSeeds, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return parseDepartmentSeeds(raw)
}

func parseDepartmentSeeds(raw []byte) ([]departmentSeed, error) {
	var file departmentSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Departments) == 0 {
		return nil, fmt.Errorf("seed file has no departments")
	}
	for i, dept := range file.Departments {
		name := strings.TrimSpace(dept.Name)
		if name == "" {
			return nil, fmt.Errorf("department %d: name is required", i+1)
		}
		file.Departments[i].Name = name
		file.Departments[i].Description = strings.TrimSpace(dept.Description)
	}
	return file.Departments, nil
}

// seedDepartments upserts departments by name and adds missing categories.
// Existing categories are never removed.
func (a *App) seedDepartments(ctx context.Context, seeds []departmentSeed) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	categoriesAdded := 0
	for _, seed := range seeds {
		var id int
		err := tx.QueryRowContext(ctx, `
			INSERT INTO departments (name, description)
			VALUES ($1, $2)
			ON CONFLICT (name)
			DO UPDATE SET description = COALESCE(EXCLUDED.description, departments.description)
			RETURNING id
		`, seed.Name, trimmedOrNil(&seed.Description)).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("seed department %q: %w", seed.Name, err)
		}

		for _, category := range seed.Categories {
			category = normalizeTag(category)
			if category == "" {
				continue
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO department_categories (department_id, category)
				VALUES ($1, $2)
				ON CONFLICT (department_id, category) DO NOTHING
			`, id, category)
			if err != nil {
				return 0, fmt.Errorf("seed category %q for %q: %w", category, seed.Name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				categoriesAdded++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	a.log.Info("departments seeded", "departments", len(seeds), "categories_added", categoriesAdded)
	return categoriesAdded, nil
}
