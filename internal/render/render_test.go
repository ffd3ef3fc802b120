package render

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"deskbridge/internal/tracker"
)

func parse(t *testing.T, fragment string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"In Progress!", "in-progress"},
		{"  Closed  ", "closed"},
		{"New", "new"},
		{"Won't Fix / Rejected", "won-t-fix-rejected"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIssueTableEmpty(t *testing.T) {
	if got := IssueTable(nil, 7); got != NoIssues {
		t.Errorf("IssueTable(nil) = %q", got)
	}
	doc := parse(t, NoIssues)
	if doc.Find("p.deskbridge-no-reported-issues").Text() != "No Reported Issues" {
		t.Error("placeholder text missing")
	}
}

func TestIssueTableRows(t *testing.T) {
	created := time.Date(2024, 1, 9, 14, 3, 2, 0, time.UTC)
	issues := []tracker.Issue{
		{ID: 30, Subject: "<script>alert(1)</script>", Tracker: "Bug", Status: "In Progress!", CreatedOn: created, CustomFields: map[int]string{7: "12"}},
		{ID: 4, Subject: "Slow login", Tracker: "Support", Status: "New", CreatedOn: created},
		{ID: 15, Subject: "Typo", Tracker: "Bug", Status: "  Closed  ", CreatedOn: created, CustomFields: map[int]string{7: "5"}},
	}

	out := IssueTable(issues, 7)
	doc := parse(t, out)

	rows := doc.Find("tbody tr")
	if rows.Length() != 3 {
		t.Fatalf("rows = %d, want 3", rows.Length())
	}

	var ids []string
	rows.Each(func(_ int, row *goquery.Selection) {
		ids = append(ids, row.Find("td.deskbridge-issue-table-id").Text())
	})
	if strings.Join(ids, ",") != "4,15,30" {
		t.Errorf("row order = %v, want ascending ids", ids)
	}

	last := rows.Eq(2)
	if !last.HasClass("deskbridge-customer-12") || !last.HasClass("deskbridge-status-in-progress") {
		t.Errorf("row classes = %q", last.AttrOr("class", ""))
	}
	if rows.Eq(0).HasClass("deskbridge-customer-0") {
		t.Error("issue without customer field must not get a customer class")
	}
	if !rows.Eq(1).HasClass("deskbridge-status-closed") {
		t.Errorf("row classes = %q", rows.Eq(1).AttrOr("class", ""))
	}
	if got := rows.Eq(0).Find("td.deskbridge-issue-table-created-date").Text(); got != "9 Jan 2024 14:03:02" {
		t.Errorf("created = %q", got)
	}
	if strings.Contains(out, "<script>") {
		t.Error("subject was not escaped")
	}
	if got := last.Find("td.deskbridge-issue-table-description").Text(); got != "<script>alert(1)</script>" {
		t.Errorf("description text = %q", got)
	}
}

func TestIssueTableWithoutCustomerField(t *testing.T) {
	issues := []tracker.Issue{{ID: 1, Status: "New", CustomFields: map[int]string{7: "12"}}}
	doc := parse(t, IssueTable(issues, 0))
	if doc.Find("tr.deskbridge-customer-12").Length() != 0 {
		t.Error("customer class rendered with customer field disabled")
	}
}

func TestViewerStyle(t *testing.T) {
	if got := ViewerStyle(0); got != "" {
		t.Errorf("ViewerStyle(0) = %q", got)
	}
	want := "<style>.deskbridge-customer-12 { font-style: italic; }</style>"
	if got := ViewerStyle(12); got != want {
		t.Errorf("ViewerStyle(12) = %q, want %q", got, want)
	}
}

func TestSupportRequests(t *testing.T) {
	issues := []tracker.Issue{
		{ID: 9, Project: "App", Subject: "User 5: crash"},
		{ID: 3, Project: "App", Subject: "No prefix", CustomFields: map[int]string{7: "5"}},
		{ID: 4, Project: "App", Subject: "User 55: other user"},
		{ID: 6, Project: "Web", Subject: "Someone else", CustomFields: map[int]string{7: "6"}},
	}
	doc := parse(t, SupportRequests(issues, 5, 7))

	var ids []string
	doc.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		ids = append(ids, row.Find("td").First().Text())
	})
	if strings.Join(ids, ",") != "3,9" {
		t.Errorf("support request ids = %v, want [3 9]", ids)
	}
}
