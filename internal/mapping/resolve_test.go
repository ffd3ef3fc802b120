package mapping

import (
	"errors"
	"reflect"
	"testing"
)

const routingDoc = `
type-of-inquiry-field: inquiry
bug:
  text-field: details
  brief-description: summary
  category-field: area
  file-uploads-field: files
  categories:
    UI:
      project: App
      tracker: Bug
      subcategory-field: f1
      subcategories:
        Rendering: UI/Render
        Layout: UI/Layout
    Backend:
      project: Server
      tracker: Bug
  internal-subject: New bug report
  internal-email-template: internal.html
  internal-email-address: support@example.com
  customer-subject: We received your report
  customer-email-template: customer.html
question:
  text-field: details
  internal-subject: Question
  internal-email-template: question.html
  internal-email-address: sales@example.com
`

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return doc
}

func TestResolveBugUIRendering(t *testing.T) {
	doc := mustParse(t, routingDoc)
	fields := Fields{
		"inquiry": "bug",
		"details": "The chart is blank",
		"summary": "Blank chart",
		"area":    "UI",
		"f1":      "Rendering",
		"files":   []any{"https://example.com/wp-content/uploads/a.png"},
	}

	res, err := Resolve("bug", fields, doc)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := &TicketRequest{
		Project:          "App",
		Tracker:          "Bug",
		Category:         "UI/Render",
		Text:             "The chart is blank",
		BriefDescription: "Blank chart",
		Uploads:          []string{"https://example.com/wp-content/uploads/a.png"},
	}
	if !reflect.DeepEqual(res.Ticket, want) {
		t.Fatalf("ticket = %+v, want %+v", res.Ticket, want)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestResolveCategoryWithoutSubcategories(t *testing.T) {
	doc := mustParse(t, routingDoc)
	res, err := Resolve("bug", Fields{"details": "d", "summary": "s", "area": "Backend", "files": nil}, doc)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Ticket == nil || res.Ticket.Project != "Server" || res.Ticket.Category != "" {
		t.Fatalf("unexpected ticket: %+v", res.Ticket)
	}
	if len(res.Ticket.Uploads) != 0 {
		t.Errorf("uploads = %v, want none", res.Ticket.Uploads)
	}
}

func TestResolveWithoutRoutingKeepsNotificationsPossible(t *testing.T) {
	doc := mustParse(t, routingDoc)
	res, err := Resolve("question", Fields{"details": "How much?"}, doc)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Ticket != nil {
		t.Fatalf("expected no ticket, got %+v", res.Ticket)
	}
	if res.Text != "How much?" {
		t.Errorf("text = %q", res.Text)
	}
	if res.BriefDescription != NotApplicable {
		t.Errorf("brief = %q, want %q", res.BriefDescription, NotApplicable)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		fields Fields
		want   Kind
	}{
		{
			name:   "unknown inquiry type",
			doc:    routingDoc,
			fields: Fields{},
			want:   UnknownInquiryType,
		},
		{
			name: "category field without categories",
			doc: `
bug:
  category-field: area
`,
			fields: Fields{"area": "UI"},
			want:   IncompleteCategoryBlock,
		},
		{
			name: "categories without category field",
			doc: `
bug:
  categories:
    UI: {project: App, tracker: Bug}
`,
			fields: Fields{"area": "UI"},
			want:   IncompleteCategoryBlock,
		},
		{
			name:   "unknown category",
			doc:    routingDoc,
			fields: Fields{"area": "Billing"},
			want:   UnknownCategory,
		},
		{
			name: "missing tracker",
			doc: `
bug:
  category-field: area
  categories:
    UI: {project: App}
`,
			fields: Fields{"area": "UI"},
			want:   MissingProjectOrTracker,
		},
		{
			name: "missing project and tracker",
			doc: `
bug:
  category-field: area
  categories:
    UI: {subcategory-field: f1, subcategories: {Rendering: UI/Render}}
`,
			fields: Fields{"area": "UI", "f1": "Rendering"},
			want:   MissingProjectOrTracker,
		},
		{
			name: "subcategories without field",
			doc: `
bug:
  category-field: area
  categories:
    UI:
      project: App
      tracker: Bug
      subcategories: {Rendering: UI/Render}
`,
			fields: Fields{"area": "UI"},
			want:   IncompleteSubcategoryBlock,
		},
		{
			name: "subcategory field without subcategories",
			doc: `
bug:
  category-field: area
  categories:
    UI: {project: App, tracker: Bug, subcategory-field: f1}
`,
			fields: Fields{"area": "UI", "f1": "Rendering"},
			want:   IncompleteSubcategoryBlock,
		},
		{
			name:   "unknown subcategory",
			doc:    routingDoc,
			fields: Fields{"area": "UI", "f1": "Fonts"},
			want:   UnknownSubcategory,
		},
		{
			name:   "subcategory field not submitted",
			doc:    routingDoc,
			fields: Fields{"area": "UI"},
			want:   UnknownFieldReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, tt.doc)
			inquiry := "bug"
			if tt.want == UnknownInquiryType {
				inquiry = "feature"
			}
			res, err := Resolve(inquiry, tt.fields, doc)
			if err == nil {
				t.Fatalf("expected %s, got ticket %+v", tt.want, res.Ticket)
			}
			if got := KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err: %v)", got, tt.want, err)
			}
			if !errors.Is(err, &ConfigError{Kind: tt.want}) {
				t.Errorf("errors.Is did not match kind %s", tt.want)
			}
			if res.Ticket != nil {
				t.Errorf("expected no ticket alongside error, got %+v", res.Ticket)
			}
		})
	}
}

func TestResolveUnknownUploadFieldIsWarning(t *testing.T) {
	doc := mustParse(t, routingDoc)
	res, err := Resolve("bug", Fields{"details": "d", "summary": "s", "area": "Backend"}, doc)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Ticket == nil {
		t.Fatal("expected ticket")
	}
	if len(res.Ticket.Uploads) != 0 {
		t.Errorf("uploads = %v", res.Ticket.Uploads)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != UnknownFieldReference || res.Warnings[0].Field != "files" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolveDefaultsTextAndBrief(t *testing.T) {
	doc := mustParse(t, `
bug:
  category-field: area
  categories:
    UI: {project: App, tracker: Bug}
`)
	res, err := Resolve("bug", Fields{"area": "UI"}, doc)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Ticket.Text != NotApplicable || res.Ticket.BriefDescription != NotApplicable {
		t.Errorf("ticket = %+v", res.Ticket)
	}
}

// Every ticket names only projects and trackers declared in the document.
func TestResolveTicketsReferenceDocumentNames(t *testing.T) {
	doc := mustParse(t, routingDoc)
	projects := map[string]bool{}
	for _, p := range doc.Projects() {
		projects[p] = true
	}
	trackers := map[string]bool{"Bug": true}

	for _, area := range []string{"UI", "Backend", "Billing", ""} {
		for _, sub := range []string{"Rendering", "Layout", "Fonts"} {
			res, err := Resolve("bug", Fields{"area": area, "f1": sub}, doc)
			if err != nil {
				if KindOf(err) == 0 {
					t.Fatalf("non-config error: %v", err)
				}
				continue
			}
			if !projects[res.Ticket.Project] || !trackers[res.Ticket.Tracker] {
				t.Errorf("ticket references undeclared names: %+v", res.Ticket)
			}
		}
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("bug: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Parse([]byte("- just\n- a list\n")); err == nil {
		t.Fatal("expected error for non-mapping document")
	}
	if _, err := Parse([]byte("bug: 42\n")); err == nil {
		t.Fatal("expected error for scalar rule")
	}
}

func TestParseEmptyDocument(t *testing.T) {
	doc := mustParse(t, "")
	if len(doc.InquiryTypes()) != 0 {
		t.Errorf("inquiry types = %v", doc.InquiryTypes())
	}
	if _, err := Resolve("bug", Fields{}, doc); KindOf(err) != UnknownInquiryType {
		t.Errorf("expected UnknownInquiryType, got %v", err)
	}
}

func TestDocumentProjects(t *testing.T) {
	doc := mustParse(t, routingDoc+`
feature:
  category-field: area
  categories:
    Mobile: {project: App, tracker: Feature}
    Docs: {project: Manual, tracker: Feature}
`)
	got := doc.Projects()
	want := []string{"Server", "App", "Manual"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Projects() = %v, want %v", got, want)
	}
	if doc.InquiryField != "inquiry" {
		t.Errorf("InquiryField = %q", doc.InquiryField)
	}
}

func TestFieldsList(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"list", []any{"a", "", "b"}, []string{"a", "b"}},
		{"object", map[string]any{"2": "b", "1": "a"}, []string{"a", "b"}},
		{"single", "a", []string{"a"}},
		{"null", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Fields{"files": tt.value}.List("files")
			if !ok {
				t.Fatal("expected field to be present")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("List = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
