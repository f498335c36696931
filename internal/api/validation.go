package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ValidationError names the first offending field of a request.
type ValidationError struct {
	Field   string
	Message string
	Index   *int
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func respondValidation(c *gin.Context, verr *ValidationError) {
	body := gin.H{"error": verr.Message}
	if verr.Field != "" {
		body["field"] = verr.Field
	}
	if verr.Index != nil {
		body["index"] = *verr.Index
	}
	c.JSON(http.StatusBadRequest, body)
}

var registerOnce sync.Once

// registerValidation makes validator report JSON field names.
func registerValidation() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

func bindJSON(c *gin.Context, dst any) *ValidationError {
	if err := c.ShouldBindJSON(dst); err != nil {
		return translateBindError(err)
	}
	return nil
}

func validateStruct(obj any) *ValidationError {
	if err := binding.Validator.ValidateStruct(obj); err != nil {
		return translateBindError(err)
	}
	return nil
}

func translateBindError(err error) *ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: fe.Field(), Message: fieldMessage(fe)}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		return invalid(field, "%s must be %s", field, describeKind(typeErr.Type))
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return invalid("", "Malformed JSON body")
	}
	if errors.Is(err, io.EOF) {
		return invalid("", "Request body is required")
	}
	return invalid("", "Invalid request body: %v", err)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "ip":
		return field + " must be a valid IP address"
	}
	return field + " is invalid"
}

func describeKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	}
	return "an object"
}

// requireNonBlank rejects values that are empty once trimmed.
func requireNonBlank(field string, value *string) *ValidationError {
	if value != nil && strings.TrimSpace(*value) == "" {
		return invalid(field, "%s must not be empty", field)
	}
	return nil
}

// validateDataObject accepts an absent payload, null or a JSON object.
func validateDataObject(field string, raw json.RawMessage) *ValidationError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] != '{' {
		return invalid(field, "%s must be a JSON object", field)
	}
	return nil
}

// Query parameters

func queryID(c *gin.Context, name string) (int64, *ValidationError) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid(name, "%s must be a positive integer", name)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, min, max int) (int, *ValidationError) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, invalid(name, "%s must be an integer of at least %d", name, min)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func queryHours(c *gin.Context) (int, *ValidationError) {
	raw := c.Query("hours")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 720 {
		return 0, invalid("hours", "hours must be between 1 and 720")
	}
	return n, nil
}
