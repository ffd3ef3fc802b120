package jobs

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"deskbridge/internal/mapping"
	"deskbridge/internal/store"
	"deskbridge/internal/tracker"
	"deskbridge/internal/tracker/trackertest"
)

type fakeCache struct {
	entries map[[2]string]string
	listErr error
}

func (f *fakeCache) ListIssueCache(context.Context) ([]store.CacheEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	items := make([]store.CacheEntry, 0, len(f.entries))
	for key, payload := range f.entries {
		items = append(items, store.CacheEntry{Project: key[0], Status: key[1], Payload: payload})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Project < items[j].Project })
	return items, nil
}

func (f *fakeCache) UpsertIssueCache(_ context.Context, project, status, payload string) error {
	f.entries[[2]string{project, status}] = payload
	return nil
}

type fakeLister struct {
	payloads map[string]string
	errs     map[string]error
}

func (f *fakeLister) BuildListing(_ context.Context, project, _ string) (string, error) {
	if err := f.errs[project]; err != nil {
		return "", err
	}
	return f.payloads[project], nil
}

type fakeSettings struct {
	field  string
	doc    *mapping.Document
	client tracker.Client
}

func (f *fakeSettings) CustomerIDField(context.Context) (string, error) { return f.field, nil }
func (f *fakeSettings) Mapping(context.Context) (*mapping.Document, error) {
	return f.doc, nil
}
func (f *fakeSettings) Tracker(context.Context) (tracker.Client, error) { return f.client, nil }

type knownAccounts map[int64]bool

func (k knownAccounts) AccountExists(_ context.Context, id int64) (bool, error) {
	return k[id], nil
}

func (k knownAccounts) CountAccounts(context.Context) (int, error) {
	count := 0
	for _, known := range k {
		if known {
			count++
		}
	}
	return count, nil
}

func TestRefreshKeepsPayloadOnFailure(t *testing.T) {
	cache := &fakeCache{entries: map[[2]string]string{
		{"App", "New"}:   "old-app",
		{"Docs", ""}:     "old-docs",
		{"Infra", "New"}: "old-infra",
	}}
	lister := &fakeLister{
		payloads: map[string]string{"App": "new-app", "Infra": "new-infra"},
		errs:     map[string]error{"Docs": tracker.ErrExternal},
	}
	syncer := NewSyncer(cache, lister, &fakeSettings{}, knownAccounts{}, quietLogger())

	report, err := syncer.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if report.Refreshed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	want := map[[2]string]string{
		{"App", "New"}:   "new-app",
		{"Docs", ""}:     "old-docs",
		{"Infra", "New"}: "new-infra",
	}
	if !reflect.DeepEqual(cache.entries, want) {
		t.Fatalf("cache = %v", cache.entries)
	}
}

func TestRefreshReportsCacheListingFailure(t *testing.T) {
	syncer := NewSyncer(&fakeCache{listErr: errors.New("db gone")}, &fakeLister{}, &fakeSettings{}, knownAccounts{}, quietLogger())
	if _, err := syncer.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

const purgeDoc = `
support:
  category-field: area
  categories:
    Bug:
      project: App
      tracker: Bug
    Docs:
      project: Docs
      tracker: Task
`

func purgeFixture(t *testing.T) (*fakeSettings, *trackertest.Fake) {
	t.Helper()
	doc, err := mapping.Parse([]byte(purgeDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fake := trackertest.New()
	fake.Projects["App"] = 1
	fake.Projects["Docs"] = 2
	for id, customer := range map[int]string{101: "5", 102: "0", 103: "12", 104: "", 105: "abc"} {
		fake.AddIssue(tracker.Issue{
			ID:                 id,
			ProjectID:          1,
			CustomFieldsByName: map[string]string{"Customer ID": customer},
		}, 1)
	}
	fake.AddIssue(tracker.Issue{ID: 201, ProjectID: 2}, 1)
	return &fakeSettings{field: "Customer ID", doc: doc, client: fake}, fake
}

func TestPurgeDeletesOnlyUnknownCustomers(t *testing.T) {
	settings, fake := purgeFixture(t)
	syncer := NewSyncer(&fakeCache{}, &fakeLister{}, settings, knownAccounts{5: true}, quietLogger())

	report, err := syncer.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if !reflect.DeepEqual(fake.Deleted, []int{103}) {
		t.Fatalf("deleted = %v, want [103]", fake.Deleted)
	}
	if report.Scanned != 6 || len(report.Deleted) != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestPurgeContinuesAfterDeleteFailure(t *testing.T) {
	settings, fake := purgeFixture(t)
	fake.AddIssue(tracker.Issue{ID: 106, ProjectID: 1, CustomFieldsByName: map[string]string{"Customer ID": "13"}}, 1)
	fake.ErrDelete[103] = errors.New("forbidden")
	syncer := NewSyncer(&fakeCache{}, &fakeLister{}, settings, knownAccounts{5: true}, quietLogger())

	report, err := syncer.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if report.Failed != 1 || !reflect.DeepEqual(report.Deleted, []int{106}) {
		t.Fatalf("report = %+v", report)
	}
}

func TestPurgeSkippedWithoutCustomerField(t *testing.T) {
	settings, fake := purgeFixture(t)
	settings.field = ""
	syncer := NewSyncer(&fakeCache{}, &fakeLister{}, settings, knownAccounts{}, quietLogger())

	report, err := syncer.Purge(context.Background())
	if err != nil || !report.Skipped {
		t.Fatalf("Purge() = %+v, %v", report, err)
	}
	if fake.Calls != 0 || len(fake.Deleted) != 0 {
		t.Fatalf("tracker touched: calls=%d deleted=%v", fake.Calls, fake.Deleted)
	}
}

func TestPurgeSkippedWhenNoAccountsSynced(t *testing.T) {
	settings, fake := purgeFixture(t)
	syncer := NewSyncer(&fakeCache{}, &fakeLister{}, settings, knownAccounts{}, quietLogger())

	report, err := syncer.Purge(context.Background())
	if err != nil || !report.Skipped {
		t.Fatalf("Purge() = %+v, %v", report, err)
	}
	if len(fake.Deleted) != 0 {
		t.Fatalf("deleted = %v, want none", fake.Deleted)
	}
}

func TestRegisterAddsBothJobs(t *testing.T) {
	sched := NewScheduler(quietLogger(), nil, 0)
	syncer := NewSyncer(&fakeCache{entries: map[[2]string]string{}}, &fakeLister{}, &fakeSettings{}, knownAccounts{}, quietLogger())
	if err := syncer.Register(sched, "@every 1h", "@every 48h"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	var names []string
	for _, status := range sched.Status() {
		names = append(names, status.Name)
	}
	if !reflect.DeepEqual(names, []string{JobPurge, JobRefresh}) {
		t.Fatalf("jobs = %v", names)
	}
	if ran, err := sched.Run(context.Background(), JobPurge); !ran || err != nil {
		t.Fatalf("Run(purge) = %v, %v", ran, err)
	}
}
