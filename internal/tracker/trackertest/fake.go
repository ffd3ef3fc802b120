// Package trackertest provides an in-memory tracker.Client for tests.
package trackertest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"deskbridge/internal/tracker"
)

// Fake is a tracker.Client backed by maps. Set Err* fields to force failures.
type Fake struct {
	mu sync.Mutex

	Projects     map[string]int
	Trackers     map[string]int
	Statuses     map[string]int
	Categories   map[int]map[string]int
	CustomFields map[string]int
	Issues       map[int]tracker.Issue
	// IssueStatus records the status id each issue is filed under.
	IssueStatus map[int]int

	Created  []tracker.NewIssue
	Deleted  []int
	Uploaded []string
	Calls    int

	ErrList     error
	ErrCreate   error
	ErrProjects error
	ErrDelete   map[int]error
	ErrUpload   map[string]error

	nextID int
}

func New() *Fake {
	return &Fake{
		Projects:     map[string]int{},
		Trackers:     map[string]int{},
		Statuses:     map[string]int{},
		Categories:   map[int]map[string]int{},
		CustomFields: map[string]int{},
		Issues:       map[int]tracker.Issue{},
		IssueStatus:  map[int]int{},
		ErrDelete:    map[int]error{},
		ErrUpload:    map[string]error{},
		nextID:       1000,
	}
}

// Factory returns a tracker.Factory that always yields f.
func (f *Fake) Factory() tracker.Factory {
	return func(string, string) tracker.Client { return f }
}

func (f *Fake) AddIssue(issue tracker.Issue, statusID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Issues[issue.ID] = issue
	f.IssueStatus[issue.ID] = statusID
}

func (f *Fake) lookup(kind string, m map[string]int, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if id, ok := m[name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%s %q: %w", kind, name, tracker.ErrNotFound)
}

func (f *Fake) ProjectID(_ context.Context, name string) (int, error) {
	return f.lookup("project", f.Projects, name)
}

func (f *Fake) TrackerID(_ context.Context, name string) (int, error) {
	return f.lookup("tracker", f.Trackers, name)
}

func (f *Fake) StatusID(_ context.Context, name string) (int, error) {
	return f.lookup("issue status", f.Statuses, name)
}

func (f *Fake) CustomFieldID(_ context.Context, name string) (int, error) {
	return f.lookup("custom field", f.CustomFields, name)
}

func (f *Fake) IssueCategoryID(_ context.Context, projectID int, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if id, ok := f.Categories[projectID][name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("issue category %q: %w", name, tracker.ErrNotFound)
}

func (f *Fake) ListProjects(context.Context) ([]tracker.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.ErrProjects != nil {
		return nil, &tracker.ExternalServiceError{Op: "list projects", Err: f.ErrProjects}
	}
	items := make([]tracker.Project, 0, len(f.Projects))
	for name, id := range f.Projects {
		items = append(items, tracker.Project{ID: id, Name: name})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *Fake) ListIssues(_ context.Context, filter tracker.Filter) ([]tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.ErrList != nil {
		return nil, &tracker.ExternalServiceError{Op: "list issues", Err: f.ErrList}
	}
	items := make([]tracker.Issue, 0)
	for id, issue := range f.Issues {
		if filter.ProjectID != 0 && issue.ProjectID != filter.ProjectID {
			continue
		}
		if filter.StatusID != 0 && f.IssueStatus[id] != filter.StatusID {
			continue
		}
		items = append(items, issue)
	}
	// Order is unspecified.
	return items, nil
}

func (f *Fake) CreateIssue(_ context.Context, issue tracker.NewIssue) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.ErrCreate != nil {
		return 0, &tracker.ExternalServiceError{Op: "create issue", Err: f.ErrCreate}
	}
	f.nextID++
	f.Created = append(f.Created, issue)
	return f.nextID, nil
}

func (f *Fake) DeleteIssue(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if err := f.ErrDelete[id]; err != nil {
		return &tracker.ExternalServiceError{Op: "delete issue", Err: err}
	}
	delete(f.Issues, id)
	f.Deleted = append(f.Deleted, id)
	return nil
}

func (f *Fake) UploadFile(_ context.Context, path string) (tracker.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if err := f.ErrUpload[path]; err != nil {
		return tracker.Attachment{}, &tracker.ExternalServiceError{Op: "upload", Err: err}
	}
	f.Uploaded = append(f.Uploaded, path)
	name := filepath.Base(path)
	return tracker.Attachment{Token: "tok-" + name, Filename: name, ContentType: "application/octet-stream"}, nil
}

var _ tracker.Client = (*Fake)(nil)
