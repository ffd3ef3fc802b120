package settings

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"deskbridge/internal/mapping"
)

// Update is a full settings save from the admin API.
type Update struct {
	URL               string `json:"url" validate:"required,url"`
	TemplateDirectory string `json:"templateDirectory" validate:"required"`
	CustomerIDField   string `json:"customerIdField" validate:"max=255"`
	Settings          string `json:"settings"`
}

// ValidationError is a rejected admin save. Message is shown to the admin.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Update checks u and persists it only if every check passes: the request
// shape, the template directory, the routing document and finally a project
// listing against the new URL with the stored API key.
func (s *Store) Update(ctx context.Context, u Update) error {
	u.URL = strings.TrimSpace(u.URL)
	u.TemplateDirectory = strings.TrimSpace(u.TemplateDirectory)
	u.CustomerIDField = strings.TrimSpace(u.CustomerIDField)

	if err := validate.Struct(u); err != nil {
		return shapeError(err)
	}
	if !dirExists(u.TemplateDirectory) {
		return &ValidationError{Field: "templateDirectory", Message: "Template directory does not exist"}
	}
	if _, err := mapping.Parse([]byte(u.Settings)); err != nil {
		return &ValidationError{Field: "settings", Message: "Invalid YAML: " + err.Error()}
	}

	key, err := s.APIKey(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		return &ValidationError{Field: "url", Message: "Can't communicate with server (set API key first)"}
	}
	if _, err := s.trackers(u.URL, key).ListProjects(ctx); err != nil {
		return &ValidationError{Field: "url", Message: "Failed to get tracker project listing."}
	}

	for _, kv := range []struct{ key, value string }{
		{KeyClientURL, u.URL},
		{KeyTemplateDirectory, u.TemplateDirectory},
		{KeyCustomerIDField, u.CustomerIDField},
		{KeySettings, u.Settings},
	} {
		if err := s.set(ctx, kv.key, kv.value); err != nil {
			return fmt.Errorf("save %s: %w", kv.key, err)
		}
	}
	s.invalidate()
	return nil
}

func shapeError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	field := first.Field()
	switch first.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: field + " is required"}
	case "url":
		return &ValidationError{Field: field, Message: field + " must be a valid URL"}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s failed %s validation", field, first.Tag())}
	}
}
