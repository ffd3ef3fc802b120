package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SplitStatuses turns a comma-separated status list into trimmed names.
// Blank entries are dropped.
func SplitStatuses(csv string) []string {
	var names []string
	for _, part := range strings.Split(csv, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// FetchListing lists the issues of one project, by name, in any of the
// named statuses. An empty project lists every project. With no statuses
// the tracker's default listing is used. Results are merged by issue id.
func FetchListing(ctx context.Context, c Client, project string, statuses []string) ([]Issue, error) {
	projectID := 0
	if project = strings.TrimSpace(project); project != "" {
		id, err := c.ProjectID(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("project %q: %w", project, err)
		}
		projectID = id
	}
	if len(statuses) == 0 {
		return c.ListIssues(ctx, Filter{ProjectID: projectID})
	}

	seen := make(map[int]bool)
	var merged []Issue
	for _, status := range statuses {
		statusID, err := c.StatusID(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", status, err)
		}
		issues, err := c.ListIssues(ctx, Filter{ProjectID: projectID, StatusID: statusID})
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if seen[issue.ID] {
				continue
			}
			seen[issue.ID] = true
			merged = append(merged, issue)
		}
	}
	return merged, nil
}

// ProjectIssues lists issues in every status across the named projects.
// Projects the tracker does not know are skipped; the first other failure
// aborts the listing.
func ProjectIssues(ctx context.Context, c Client, projects []string) ([]Issue, error) {
	seen := make(map[int]bool)
	var all []Issue
	for _, project := range projects {
		projectID, err := c.ProjectID(ctx, project)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("project %q: %w", project, err)
		}
		issues, err := c.ListIssues(ctx, Filter{ProjectID: projectID, AllStatuses: true})
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if seen[issue.ID] {
				continue
			}
			seen[issue.ID] = true
			if issue.Project == "" {
				issue.Project = project
			}
			all = append(all, issue)
		}
	}
	return all, nil
}

// CustomerFieldID resolves the customer-id custom field. An empty name
// yields 0 without calling the tracker.
func CustomerFieldID(ctx context.Context, c Client, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	return c.CustomFieldID(ctx, name)
}
