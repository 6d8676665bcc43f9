package main

import (
	"strconv"
	"strings"
)

const (
	defaultPage       = 1
	dashboardPageSize = 50
)

func parsePage(rawPage string) int {
	page, err := strconv.Atoi(strings.TrimSpace(rawPage))
	if err != nil || page < defaultPage {
		return defaultPage
	}
	return page
}

// parseLimit falls back to fallback for missing or malformed values and clamps to [1, max].
func parseLimit(rawLimit string, fallback, max int) int {
	limit, err := strconv.Atoi(strings.TrimSpace(rawLimit))
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func pageOffset(page, limit int) int {
	if page < defaultPage {
		page = defaultPage
	}
	return (page - 1) * limit
}

type paginationView struct {
	CurrentPage   int
	TotalPages    int
	TotalCount    int
	NextPage      int
	PrevPage      int
	HasNext       bool
	HasPrev       bool
	PageURL       string
	PageSeparator string
}

func buildPaginationView(totalCount, currentPage, pageSize int, pageURL string) paginationView {
	if pageSize < 1 {
		pageSize = dashboardPageSize
	}
	if currentPage < defaultPage {
		currentPage = defaultPage
	}

	totalPages := 0
	if totalCount > 0 {
		totalPages = (totalCount + pageSize - 1) / pageSize
	}

	pageSeparator := "?"
	if strings.Contains(pageURL, "?") {
		pageSeparator = "&"
	}

	return paginationView{
		CurrentPage:   currentPage,
		TotalPages:    totalPages,
		TotalCount:    totalCount,
		NextPage:      currentPage + 1,
		PrevPage:      currentPage - 1,
		HasNext:       currentPage < totalPages,
		HasPrev:       currentPage > defaultPage,
		PageURL:       pageURL,
		PageSeparator: pageSeparator,
	}
}
