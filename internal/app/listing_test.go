package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"deskbridge/internal/render"
	"deskbridge/internal/tracker"
)

func seedIssues(env *testEnv) {
	created := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	env.tracker.AddIssue(tracker.Issue{
		ID: 30, ProjectID: 1, Project: "App", Tracker: "Bug", Status: "New", Subject: "User 5: Crash",
		CreatedOn: created, CustomFields: map[int]string{7: "5"}, CustomFieldsByName: map[string]string{"Customer ID": "5"},
	}, 1)
	env.tracker.AddIssue(tracker.Issue{
		ID: 4, ProjectID: 1, Project: "App", Tracker: "Bug", Status: "Closed", Subject: "Old <bug>",
		CreatedOn: created, CustomFields: map[int]string{7: "9"}, CustomFieldsByName: map[string]string{"Customer ID": "9"},
	}, 5)
	env.tracker.AddIssue(tracker.Issue{
		ID: 15, ProjectID: 2, Project: "Docs", Tracker: "Task", Status: "New", Subject: "Typo",
		CreatedOn: created, CustomFields: map[int]string{7: "5"}, CustomFieldsByName: map[string]string{"Customer ID": "5"},
	}, 1)
}

func TestRenderIssueTableCachesPayload(t *testing.T) {
	env := newTestEnv(t)
	seedIssues(env)
	ctx := context.Background()

	first, err := env.service.RenderIssueTable(ctx, "App", "New, Closed", 0)
	if err != nil {
		t.Fatalf("RenderIssueTable() error = %v", err)
	}
	calls := env.tracker.Calls

	// A tracker change is invisible until the cache is refreshed.
	env.tracker.AddIssue(tracker.Issue{ID: 99, ProjectID: 1, Status: "New"}, 1)
	second, err := env.service.RenderIssueTable(ctx, " App ", "New,Closed", 0)
	if err != nil {
		t.Fatalf("RenderIssueTable() error = %v", err)
	}
	if first != second {
		t.Fatalf("cached render differs:\n%s\n%s", first, second)
	}
	if env.tracker.Calls != calls {
		t.Fatalf("cache hit called tracker %d more times", env.tracker.Calls-calls)
	}
	if _, ok := env.store.cache[[2]string{"App", "New,Closed"}]; !ok {
		t.Fatalf("cache keys = %v", env.store.cache)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(first))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	var ids []string
	doc.Find("tbody tr td:first-child").Each(func(_ int, cell *goquery.Selection) {
		ids = append(ids, cell.Text())
	})
	if strings.Join(ids, ",") != "4,30" {
		t.Fatalf("row ids = %v", ids)
	}
	if !doc.Find("tr." + render.CustomerClass(5)).Is("tr") {
		t.Fatal("missing customer class for issue 30")
	}
}

func TestRenderIssueTableAddsViewerStyleOutsideCache(t *testing.T) {
	env := newTestEnv(t)
	seedIssues(env)
	ctx := context.Background()

	withViewer, err := env.service.RenderIssueTable(ctx, "App", "New", 5)
	if err != nil {
		t.Fatalf("RenderIssueTable() error = %v", err)
	}
	if !strings.HasSuffix(withViewer, render.ViewerStyle(5)) {
		t.Fatalf("viewer style missing: %s", withViewer)
	}
	stored := env.store.cache[[2]string{"App", "New"}].Payload
	if strings.Contains(stored, "<style>") {
		t.Fatal("viewer style was cached")
	}
	anonymous, _ := env.service.RenderIssueTable(ctx, "App", "New", 0)
	if anonymous != stored {
		t.Fatal("anonymous render should equal stored payload")
	}
}

func TestRenderIssueTableEmptyAndErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	empty, err := env.service.RenderIssueTable(ctx, "Docs", "Closed", 0)
	if err != nil || empty != render.NoIssues {
		t.Fatalf("RenderIssueTable() = %q, %v", empty, err)
	}

	env.tracker.ErrList = errors.New("timeout")
	if _, err := env.service.RenderIssueTable(ctx, "App", "", 0); !errors.Is(err, tracker.ErrExternal) {
		t.Fatalf("error = %v, want ErrExternal", err)
	}
	if _, ok := env.store.cache[[2]string{"App", ""}]; ok {
		t.Fatal("failed render was cached")
	}
}

func TestRenderIssueTableCoalescesMisses(t *testing.T) {
	env := newTestEnv(t)
	seedIssues(env)

	var upserts atomic.Int32
	release := make(chan struct{})
	env.store.upsertFn = func(context.Context, string, string, string) error {
		upserts.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.service.RenderIssueTable(context.Background(), "App", "New", 0)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := upserts.Load(); n < 1 || n > 4 {
		t.Fatalf("upserts = %d", n)
	}
	for _, result := range results {
		if result != results[0] {
			t.Fatal("concurrent renders disagree")
		}
	}
}

func TestRenderIssueTableSharedFetchSurvivesCancelledCaller(t *testing.T) {
	env := newTestEnv(t)
	seedIssues(env)

	var upserts atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	upsertCtxErr := make(chan error, 4)
	env.store.upsertFn = func(ctx context.Context, _, _, _ string) error {
		if upserts.Add(1) == 1 {
			close(entered)
		}
		<-release
		upsertCtxErr <- ctx.Err()
		return nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := env.service.RenderIssueTable(firstCtx, "App", "New", 0)
		firstErr <- err
	}()
	<-entered
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	second := make(chan string, 1)
	go func() {
		payload, err := env.service.RenderIssueTable(context.Background(), "App", "New", 0)
		if err != nil {
			t.Errorf("second caller error = %v", err)
		}
		second <- payload
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if payload := <-second; !strings.Contains(payload, "Crash") {
		t.Fatalf("second caller payload = %q", payload)
	}
	if err := <-upsertCtxErr; err != nil {
		t.Fatalf("shared fetch saw cancelled context: %v", err)
	}
	if n := upserts.Load(); n != 1 {
		t.Fatalf("upserts = %d, want 1", n)
	}
}

func TestSupportRequestsListsOwnIssues(t *testing.T) {
	env := newTestEnv(t)
	seedIssues(env)

	payload, err := env.service.SupportRequests(context.Background(), 5)
	if err != nil {
		t.Fatalf("SupportRequests() error = %v", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	var ids []string
	doc.Find("tbody tr td:first-child").Each(func(_ int, cell *goquery.Selection) {
		ids = append(ids, cell.Text())
	})
	if strings.Join(ids, ",") != "15,30" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestBuildListingUnknownCustomerFieldStillRenders(t *testing.T) {
	env := newTestEnv(t)
	seedIssues(env)
	delete(env.tracker.CustomFields, "Customer ID")

	payload, err := env.service.BuildListing(context.Background(), "App", "New")
	if err != nil {
		t.Fatalf("BuildListing() error = %v", err)
	}
	if strings.Contains(payload, render.CustomerClass(5)) {
		t.Fatal("customer class rendered without a field id")
	}
}
