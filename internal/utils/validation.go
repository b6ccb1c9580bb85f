package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/metorial/custom-server/internal/models"
)

var (
	// validate is the singleton validator instance
	validate *validator.Validate

	// resourceIDRegex matches public ids, version hashes and aliases
	resourceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,254}$`)
)

func init() {
	validate = validator.New()
}

// PaginationRequest represents pagination parameters
type PaginationRequest struct {
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`
}

// CreateCustomServerRequest is the body of a custom server creation
type CreateCustomServerRequest struct {
	Name           string                `json:"name" validate:"required,max=255"`
	Description    string                `json:"description" validate:"omitempty,max=2000"`
	Implementation models.Implementation `json:"implementation"`
	IsEphemeral    bool                  `json:"is_ephemeral"`
}

// UpdateCustomServerRequest is the body of a custom server update
type UpdateCustomServerRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	IsPublic    *bool   `json:"is_public"`
}

// CreateVersionRequest is the body of a version creation
type CreateVersionRequest struct {
	Implementation models.Implementation `json:"implementation"`
}

// ImportVersionRequest is the body of a cross-environment import
type ImportVersionRequest struct {
	FromInstanceID string `json:"from_instance_id" validate:"required,max=255"`
	VersionID      string `json:"version_id" validate:"omitempty,max=255"`
}

// ValidateStruct validates a struct using validator.v10
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return err
	}
	return nil
}

// formatValidationErrors converts validator errors to user-friendly messages
func formatValidationErrors(errs validator.ValidationErrors) error {
	var messages []string
	for _, err := range errs {
		messages = append(messages, formatFieldError(err))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// formatFieldError formats a single field validation error
func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(err.Param(), " ", " is ", 1))
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, err.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ValidateID validates a path identifier for safety.
// Prevents path traversal and injection attacks.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	if len(id) > 255 {
		return fmt.Errorf("id too long")
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("invalid id format")
	}

	if !resourceIDRegex.MatchString(id) {
		return fmt.Errorf("invalid id format")
	}

	return nil
}
