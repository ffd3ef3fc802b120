package tracker

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	redmine "github.com/mattn/go-redmine"
	"golang.org/x/time/rate"
)

// Redmine adapts github.com/mattn/go-redmine to Client. The SDK has no
// context support, so every call waits on the shared limiter first and
// relies on the HTTP client timeout to stay fail-fast.
type Redmine struct {
	client  *redmine.Client
	limiter *rate.Limiter
}

type RedmineOptions struct {
	RequestsPerSecond int
	Timeout           time.Duration
}

func NewRedmine(baseURL, apiKey string, opts RedmineOptions) *Redmine {
	return newRedmine(baseURL, apiKey, opts.Timeout, opts.limiter())
}

// NewRedmineFactory returns a Factory whose clients share one rate limiter,
// so the limit holds across requests rather than per client.
func NewRedmineFactory(opts RedmineOptions) Factory {
	limiter := opts.limiter()
	return func(baseURL, apiKey string) Client {
		return newRedmine(baseURL, apiKey, opts.Timeout, limiter)
	}
}

func (o RedmineOptions) limiter() *rate.Limiter {
	if o.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(o.RequestsPerSecond), o.RequestsPerSecond)
}

func newRedmine(baseURL, apiKey string, timeout time.Duration, limiter *rate.Limiter) *Redmine {
	client := redmine.NewClient(strings.TrimRight(baseURL, "/"), apiKey)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.Client = &http.Client{Timeout: timeout}
	return &Redmine{client: client, limiter: limiter}
}

func (r *Redmine) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &ExternalServiceError{Op: op, Err: err}
	}
	return nil
}

func (r *Redmine) ListProjects(ctx context.Context) ([]Project, error) {
	if err := r.wait(ctx, "list projects"); err != nil {
		return nil, err
	}
	projects, err := r.client.Projects()
	if err != nil {
		return nil, &ExternalServiceError{Op: "list projects", Err: err}
	}
	items := make([]Project, 0, len(projects))
	for _, p := range projects {
		items = append(items, Project{ID: p.Id, Name: p.Name, Identifier: p.Identifier})
	}
	return items, nil
}

func (r *Redmine) ProjectID(ctx context.Context, name string) (int, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range projects {
		if p.Name == name || p.Identifier == name {
			return p.ID, nil
		}
	}
	return 0, fmt.Errorf("project %q: %w", name, ErrNotFound)
}

func (r *Redmine) TrackerID(ctx context.Context, name string) (int, error) {
	if err := r.wait(ctx, "list trackers"); err != nil {
		return 0, err
	}
	trackers, err := r.client.Trackers()
	if err != nil {
		return 0, &ExternalServiceError{Op: "list trackers", Err: err}
	}
	for _, t := range trackers {
		if t.Name == name {
			return t.Id, nil
		}
	}
	return 0, fmt.Errorf("tracker %q: %w", name, ErrNotFound)
}

func (r *Redmine) StatusID(ctx context.Context, name string) (int, error) {
	if err := r.wait(ctx, "list issue statuses"); err != nil {
		return 0, err
	}
	statuses, err := r.client.IssueStatuses()
	if err != nil {
		return 0, &ExternalServiceError{Op: "list issue statuses", Err: err}
	}
	for _, s := range statuses {
		if s.Name == name {
			return s.Id, nil
		}
	}
	return 0, fmt.Errorf("issue status %q: %w", name, ErrNotFound)
}

func (r *Redmine) IssueCategoryID(ctx context.Context, projectID int, name string) (int, error) {
	if err := r.wait(ctx, "list issue categories"); err != nil {
		return 0, err
	}
	categories, err := r.client.IssueCategories(projectID)
	if err != nil {
		return 0, &ExternalServiceError{Op: "list issue categories", Err: err}
	}
	for _, c := range categories {
		if c.Name == name {
			return c.Id, nil
		}
	}
	return 0, fmt.Errorf("issue category %q: %w", name, ErrNotFound)
}

func (r *Redmine) CustomFieldID(ctx context.Context, name string) (int, error) {
	if err := r.wait(ctx, "list custom fields"); err != nil {
		return 0, err
	}
	fields, err := r.client.CustomFields()
	if err != nil {
		return 0, &ExternalServiceError{Op: "list custom fields", Err: err}
	}
	for _, f := range fields {
		if f.Name == name {
			return f.Id, nil
		}
	}
	return 0, fmt.Errorf("custom field %q: %w", name, ErrNotFound)
}

func (r *Redmine) ListIssues(ctx context.Context, filter Filter) ([]Issue, error) {
	if err := r.wait(ctx, "list issues"); err != nil {
		return nil, err
	}
	f := &redmine.IssueFilter{}
	if filter.ProjectID != 0 {
		f.ProjectId = strconv.Itoa(filter.ProjectID)
	}
	switch {
	case filter.StatusID != 0:
		f.StatusId = strconv.Itoa(filter.StatusID)
	case filter.AllStatuses:
		f.StatusId = "*"
	}

	issues, err := r.client.IssuesByFilter(f)
	if err != nil {
		return nil, &ExternalServiceError{Op: "list issues", Err: err}
	}
	items := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		items = append(items, convertIssue(issue))
	}
	return items, nil
}

func (r *Redmine) CreateIssue(ctx context.Context, issue NewIssue) (int, error) {
	if err := r.wait(ctx, "create issue"); err != nil {
		return 0, err
	}
	request := redmine.Issue{
		ProjectId:   issue.ProjectID,
		TrackerId:   issue.TrackerID,
		CategoryId:  issue.CategoryID,
		Subject:     issue.Subject,
		Description: issue.Description,
	}
	for _, field := range issue.CustomFields {
		request.CustomFields = append(request.CustomFields, &redmine.CustomField{
			Id:    field.ID,
			Name:  field.Name,
			Value: field.Value,
		})
	}
	for _, upload := range issue.Uploads {
		request.Uploads = append(request.Uploads, &redmine.Upload{
			Token:       upload.Token,
			Filename:    upload.Filename,
			ContentType: upload.ContentType,
		})
	}

	created, err := r.client.CreateIssue(request)
	if err != nil {
		return 0, &ExternalServiceError{Op: "create issue", Err: err}
	}
	return created.Id, nil
}

func (r *Redmine) DeleteIssue(ctx context.Context, id int) error {
	if err := r.wait(ctx, "delete issue"); err != nil {
		return err
	}
	if err := r.client.DeleteIssue(id); err != nil {
		return &ExternalServiceError{Op: "delete issue", Err: err}
	}
	return nil
}

func (r *Redmine) UploadFile(ctx context.Context, path string) (Attachment, error) {
	if err := r.wait(ctx, "upload"); err != nil {
		return Attachment{}, err
	}
	upload, err := r.client.Upload(path)
	if err != nil {
		return Attachment{}, &ExternalServiceError{Op: "upload", Err: err}
	}
	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Attachment{Token: upload.Token, Filename: name, ContentType: contentType}, nil
}

func convertIssue(issue redmine.Issue) Issue {
	item := Issue{
		ID:                 issue.Id,
		Subject:            issue.Subject,
		CustomFields:       map[int]string{},
		CustomFieldsByName: map[string]string{},
	}
	if issue.Project != nil {
		item.Project = issue.Project.Name
		item.ProjectID = issue.Project.Id
	}
	if issue.Tracker != nil {
		item.Tracker = issue.Tracker.Name
	}
	if issue.Status != nil {
		item.Status = issue.Status.Name
	}
	if created, err := time.Parse(time.RFC3339, issue.CreatedOn); err == nil {
		item.CreatedOn = created
	}
	for _, field := range issue.CustomFields {
		if field == nil {
			continue
		}
		value := customFieldValue(field.Value)
		item.CustomFields[field.Id] = value
		item.CustomFieldsByName[field.Name] = value
	}
	return item
}

// customFieldValue flattens the SDK's untyped value. Multi-value fields
// keep their first entry.
func customFieldValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		if len(v) == 0 {
			return ""
		}
		return customFieldValue(v[0])
	default:
		return fmt.Sprint(v)
	}
}
