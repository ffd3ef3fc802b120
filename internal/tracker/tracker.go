// Package tracker is the boundary to the external issue tracker.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("tracker: not found")
	ErrExternal = errors.New("tracker: external service error")
)

// ExternalServiceError wraps a failed call to the tracker.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("tracker %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternal }

type Project struct {
	ID         int
	Name       string
	Identifier string
}

type Issue struct {
	ID        int
	Subject   string
	Project   string
	ProjectID int
	Tracker   string
	Status    string
	CreatedOn time.Time
	// CustomFields holds values by custom field id.
	CustomFields map[int]string
	// CustomFieldsByName holds the same values by field name.
	CustomFieldsByName map[string]string
}

// Filter narrows ListIssues. Zero ids mean "any"; a zero StatusID returns
// the tracker's default (open) issues unless AllStatuses is set.
type Filter struct {
	ProjectID   int
	StatusID    int
	AllStatuses bool
}

type CustomFieldValue struct {
	ID    int
	Name  string
	Value string
}

type Attachment struct {
	Token       string
	Filename    string
	ContentType string
	Description string
}

type NewIssue struct {
	ProjectID    int
	TrackerID    int
	CategoryID   int
	Subject      string
	Description  string
	CustomFields []CustomFieldValue
	Uploads      []Attachment
}

// Client is the subset of the tracker API the bridge uses. Calls are
// fail-fast; lookups by name return ErrNotFound when nothing matches.
type Client interface {
	ProjectID(ctx context.Context, name string) (int, error)
	TrackerID(ctx context.Context, name string) (int, error)
	StatusID(ctx context.Context, name string) (int, error)
	IssueCategoryID(ctx context.Context, projectID int, name string) (int, error)
	CustomFieldID(ctx context.Context, name string) (int, error)
	ListProjects(ctx context.Context) ([]Project, error)
	ListIssues(ctx context.Context, filter Filter) ([]Issue, error)
	CreateIssue(ctx context.Context, issue NewIssue) (int, error)
	DeleteIssue(ctx context.Context, id int) error
	UploadFile(ctx context.Context, path string) (Attachment, error)
}

// Factory builds a Client for the credentials currently stored in settings.
type Factory func(baseURL, apiKey string) Client
