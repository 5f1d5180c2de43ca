// Package response provides the uniform API response envelope used by the
// HTTP surface: {ok, data|error, error_code, meta}.
package response

import (
	"reflect"
	"strings"

	"github.com/gofiber/fiber/v2"

	"tminus/pkg/apperr"
)

// Envelope is the standard API response structure.
type Envelope struct {
	OK        bool        `json:"ok"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination and other response metadata.
type Meta struct {
	Total    int    `json:"total,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	HasMore  bool   `json:"has_more,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(Envelope{OK: true, Data: data})
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data interface{}, meta *Meta) error {
	return c.JSON(Envelope{OK: true, Data: data, Meta: meta})
}

// Created returns a 201 created response.
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Envelope{OK: true, Data: data})
}

// NoContent returns a 204 no content response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Fail writes an error envelope for a raw code/message pair.
func Fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Envelope{OK: false, Error: message, ErrorCode: code})
}

// FromAppError writes an error envelope derived from an *apperr.AppError,
// falling back to a 500 INTERNAL_ERROR for any other error type.
func FromAppError(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return Fail(c, appErr.HTTPStatus(), appErr.Code, appErr.Message)
}

// SelectFields filters struct fields based on a comma-separated "fields"
// query parameter, e.g. GET /events?fields=id,title,start.
func SelectFields(c *fiber.Ctx, data interface{}) interface{} {
	fieldsParam := c.Query("fields")
	if fieldsParam == "" {
		return data
	}

	fields := strings.Split(fieldsParam, ",")
	fieldSet := make(map[string]bool)
	for _, f := range fields {
		fieldSet[strings.TrimSpace(strings.ToLower(f))] = true
	}

	return filterFields(data, fieldSet)
}

func filterFields(data interface{}, fields map[string]bool) interface{} {
	if data == nil {
		return nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		result := make([]map[string]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			result[i] = filterStructFields(v.Index(i), fields)
		}
		return result

	case reflect.Struct:
		return filterStructFields(v, fields)

	default:
		return data
	}
}

func filterStructFields(v reflect.Value, fields map[string]bool) map[string]interface{} {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	t := v.Type()
	result := make(map[string]interface{})

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)

		jsonTag := field.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		jsonName := strings.Split(jsonTag, ",")[0]
		if fields[strings.ToLower(jsonName)] {
			result[jsonName] = v.Field(i).Interface()
		}
	}

	return result
}

// PaginationParams carries page/cursor parameters extracted from a request.
type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
	Limit    int
	Cursor   string
}

// GetPagination extracts pagination params from the request, supporting
// both page/page_size and limit/offset/cursor styles.
func GetPagination(c *fiber.Ctx, defaultPageSize, maxPageSize int) *PaginationParams {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}

	pageSize := c.QueryInt("page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	limit := c.QueryInt("limit", pageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset := c.QueryInt("offset", (page-1)*pageSize)

	return &PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   offset,
		Limit:    limit,
		Cursor:   c.Query("cursor"),
	}
}
