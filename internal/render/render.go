// Package render produces the HTML fragments served by the embed endpoint
// and the admin support-request listing.
package render

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"deskbridge/internal/tracker"
)

const (
	classPrefix = "deskbridge-"
	dateLayout  = "2 Jan 2006 15:04:05"
)

// NoIssues is rendered instead of an empty table.
const NoIssues = `<p class="deskbridge-no-reported-issues">No Reported Issues</p>`

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses runs of other characters into one hyphen.
// Leading and trailing hyphens are dropped.
func Slug(s string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(slug, "-")
}

// CustomerClass is the row class for issues filed by customerID.
func CustomerClass(customerID int) string {
	return classPrefix + "customer-" + strconv.Itoa(customerID)
}

// ViewerStyle highlights the viewer's own rows. It is appended per request
// and never cached. A zero viewer gets nothing.
func ViewerStyle(viewerID int) string {
	if viewerID <= 0 {
		return ""
	}
	return fmt.Sprintf("<style>.%s { font-style: italic; }</style>", CustomerClass(viewerID))
}

// IssueTable renders issues sorted by ascending id. customerFieldID is the
// tracker custom field holding the customer id; zero disables customer row
// classes.
func IssueTable(issues []tracker.Issue, customerFieldID int) string {
	if len(issues) == 0 {
		return NoIssues
	}
	sorted := sortedByID(issues)

	var b strings.Builder
	b.WriteString(`<table class="deskbridge-issue-table">`)
	b.WriteString(`<thead class="deskbridge-issue-table-header"><tr class="deskbridge-issue-table-header-row">`)
	for _, col := range []struct{ class, label string }{
		{"id", "Issue ID"},
		{"created-date", "Created"},
		{"type", "Type"},
		{"status", "Status"},
		{"description", "Description"},
	} {
		fmt.Fprintf(&b, `<td class="deskbridge-issue-table-header-%s">%s</td>`, col.class, col.label)
	}
	b.WriteString(`</tr></thead><tbody class="deskbridge-issue-table-body">`)

	for _, issue := range sorted {
		classes := []string{"deskbridge-issue-table-row"}
		if customerFieldID != 0 {
			if raw, ok := issue.CustomFields[customerFieldID]; ok {
				if customerID, _ := strconv.Atoi(strings.TrimSpace(raw)); customerID > 0 {
					classes = append(classes, CustomerClass(customerID))
				}
			}
		}
		classes = append(classes, classPrefix+"status-"+Slug(issue.Status))

		created := ""
		if !issue.CreatedOn.IsZero() {
			created = issue.CreatedOn.Format(dateLayout)
		}

		fmt.Fprintf(&b, `<tr class="%s">`, html.EscapeString(strings.Join(classes, " ")))
		fmt.Fprintf(&b, `<td class="deskbridge-issue-table-id">%d</td>`, issue.ID)
		fmt.Fprintf(&b, `<td class="deskbridge-issue-table-created-date">%s</td>`, html.EscapeString(created))
		fmt.Fprintf(&b, `<td class="deskbridge-issue-table-type">%s</td>`, html.EscapeString(issue.Tracker))
		fmt.Fprintf(&b, `<td class="deskbridge-issue-table-status">%s</td>`, html.EscapeString(issue.Status))
		fmt.Fprintf(&b, `<td class="deskbridge-issue-table-description">%s</td>`, html.EscapeString(issue.Subject))
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table>`)
	return b.String()
}

// SupportRequestPrefix is how attachments and subjects are tagged for a user.
func SupportRequestPrefix(userID int) string {
	return fmt.Sprintf("User %d: ", userID)
}

// SupportRequests lists the issues belonging to userID: those whose customer
// field holds the id, or whose subject carries the "User <id>: " prefix.
func SupportRequests(issues []tracker.Issue, userID int, customerFieldID int) string {
	prefix := SupportRequestPrefix(userID)
	want := strconv.Itoa(userID)

	var b strings.Builder
	b.WriteString(`<div class="deskbridge-support-requests"><h2>Tracker Issues</h2><table>`)
	b.WriteString(`<thead><tr><td>Issue ID</td><td>Project</td><td>Subject Line</td></tr></thead><tbody>`)
	for _, issue := range sortedByID(issues) {
		owned := strings.HasPrefix(issue.Subject, prefix)
		if !owned && customerFieldID != 0 {
			owned = strings.TrimSpace(issue.CustomFields[customerFieldID]) == want
		}
		if !owned {
			continue
		}
		fmt.Fprintf(&b, `<tr><td>%d</td><td>%s</td><td>%s</td></tr>`,
			issue.ID, html.EscapeString(issue.Project), html.EscapeString(issue.Subject))
	}
	b.WriteString(`</tbody></table></div>`)
	return b.String()
}

func sortedByID(issues []tracker.Issue) []tracker.Issue {
	sorted := make([]tracker.Issue, len(issues))
	copy(sorted, issues)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}
