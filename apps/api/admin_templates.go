package main

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"
)

//go:embed templates/admin/*.tmpl admin_static/*
var adminAssetsFS embed.FS

// adminTemplateRenderer parses layout plus one page template. Outside
// development the parsed set is cached per page; in development templates
// are re-read from disk on every render.
type adminTemplateRenderer struct {
	env string

	mu    sync.Mutex
	cache map[string]*template.Template
}

func newAdminTemplateRenderer(env string) *adminTemplateRenderer {
	return &adminTemplateRenderer{
		env:   env,
		cache: make(map[string]*template.Template),
	}
}

var adminTemplateFuncs = template.FuncMap{
	"statusLabel": statusLabel,
	"join":        strings.Join,
	"add": func(a, b int) int {
		return a + b
	},
}

func (r *adminTemplateRenderer) templatesForRender(contentTemplatePath string) (*template.Template, error) {
	if r.env == "development" {
		return parseAdminTemplates(os.DirFS("."), contentTemplatePath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[contentTemplatePath]; ok {
		return cached, nil
	}
	templates, err := parseAdminTemplates(adminAssetsFS, contentTemplatePath)
	if err != nil {
		return nil, err
	}
	r.cache[contentTemplatePath] = templates
	return templates, nil
}

func parseAdminTemplates(sourceFS fs.FS, contentTemplatePath string) (*template.Template, error) {
	templates, err := template.New("layout.tmpl").Funcs(adminTemplateFuncs).
		ParseFS(sourceFS, "templates/admin/layout.tmpl", contentTemplatePath)
	if err != nil {
		return nil, fmt.Errorf("parse admin templates: %w", err)
	}
	return templates, nil
}

func adminStaticFileSystem(env string) (http.FileSystem, error) {
	if env == "development" {
		return http.Dir("admin_static"), nil
	}

	sub, err := fs.Sub(adminAssetsFS, "admin_static")
	if err != nil {
		return nil, fmt.Errorf("admin static fs: %w", err)
	}
	return http.FS(sub), nil
}
