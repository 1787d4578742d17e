package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// envelope follows JSend: success carries data, fail carries a message and
// optional field errors, error is reserved for server faults.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

type pageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

func newPageInfo(page, pageSize int, total int64) pageInfo {
	info := pageInfo{Page: page, PageSize: pageSize, TotalItems: total}
	if total > 0 {
		info.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return info
}

type pageData struct {
	Items      any            `json:"items"`
	Pagination pageInfo       `json:"pagination"`
	Filters    map[string]any `json:"filters,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Status: "success", Data: data})
}

func successPage(c echo.Context, items any, info pageInfo, filters map[string]any) error {
	return success(c, pageData{Items: items, Pagination: info, Filters: filters})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return c.JSON(http.StatusBadRequest, envelope{
		Status:  "fail",
		Message: "Validation failed",
		Data:    map[string]any{"validation_errors": fieldErrors},
	})
}

func failNotFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, envelope{Status: "fail", Message: message})
}

func internalError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, envelope{
		Status:  "error",
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}
