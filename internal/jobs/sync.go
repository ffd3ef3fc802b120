package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"deskbridge/internal/mapping"
	"deskbridge/internal/store"
	"deskbridge/internal/tracker"
)

const (
	JobRefresh = "refresh-issue-cache"
	JobPurge   = "purge-defunct-issues"
)

// Lister renders the issue table for one cache key.
type Lister interface {
	BuildListing(ctx context.Context, project, statuses string) (string, error)
}

type CacheStore interface {
	ListIssueCache(ctx context.Context) ([]store.CacheEntry, error)
	UpsertIssueCache(ctx context.Context, project, status, payload string) error
}

type Settings interface {
	CustomerIDField(ctx context.Context) (string, error)
	Mapping(ctx context.Context) (*mapping.Document, error)
	Tracker(ctx context.Context) (tracker.Client, error)
}

type Accounts interface {
	AccountExists(ctx context.Context, id int64) (bool, error)
	CountAccounts(ctx context.Context) (int, error)
}

// Syncer keeps the issue cache current and removes issues filed by
// accounts that no longer exist.
type Syncer struct {
	cache    CacheStore
	lister   Lister
	settings Settings
	accounts Accounts
	logger   *logrus.Logger
}

func NewSyncer(cache CacheStore, lister Lister, settings Settings, accounts Accounts, logger *logrus.Logger) *Syncer {
	return &Syncer{cache: cache, lister: lister, settings: settings, accounts: accounts, logger: logger}
}

// Register adds both jobs to sched.
func (s *Syncer) Register(sched *Scheduler, refreshSchedule, purgeSchedule string) error {
	if err := sched.Register(JobRefresh, refreshSchedule, func(ctx context.Context) error {
		_, err := s.Refresh(ctx)
		return err
	}); err != nil {
		return err
	}
	return sched.Register(JobPurge, purgeSchedule, func(ctx context.Context) error {
		_, err := s.Purge(ctx)
		return err
	})
}

type RefreshReport struct {
	Refreshed int
	Failed    int
}

// Refresh re-renders every cached key. A key that fails keeps its previous
// payload.
func (s *Syncer) Refresh(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport
	entries, err := s.cache.ListIssueCache(ctx)
	if err != nil {
		return report, fmt.Errorf("list issue cache: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := s.logger.WithFields(logrus.Fields{"project": entry.Project, "status": entry.Status})
		payload, err := s.lister.BuildListing(ctx, entry.Project, entry.Status)
		if err != nil {
			report.Failed++
			log.WithError(err).Warn("Issue cache refresh failed; keeping previous payload")
			continue
		}
		if err := s.cache.UpsertIssueCache(ctx, entry.Project, entry.Status, payload); err != nil {
			report.Failed++
			log.WithError(err).Error("Failed to store refreshed issue table")
			continue
		}
		report.Refreshed++
	}

	s.logger.WithFields(logrus.Fields{"refreshed": report.Refreshed, "failed": report.Failed}).Info("Issue cache refreshed")
	return report, nil
}

type PurgeReport struct {
	// Skipped is set when no customer-id field is configured or the
	// account directory is empty.
	Skipped bool
	Scanned int
	Deleted []int
	Failed  int
}

// Purge deletes tracker issues whose customer-id field names an account
// the host site no longer has. Issues with no usable customer id are never
// touched.
func (s *Syncer) Purge(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport

	field, err := s.settings.CustomerIDField(ctx)
	if err != nil {
		return report, err
	}
	if field == "" {
		report.Skipped = true
		return report, nil
	}
	known, err := s.accounts.CountAccounts(ctx)
	if err != nil {
		return report, err
	}
	// An empty directory means accounts were never synced, not that every
	// customer left.
	if known == 0 {
		s.logger.Warn("Account directory is empty; purge skipped")
		report.Skipped = true
		return report, nil
	}
	doc, err := s.settings.Mapping(ctx)
	if err != nil {
		return report, fmt.Errorf("load routing document: %w", err)
	}
	client, err := s.settings.Tracker(ctx)
	if err != nil {
		return report, err
	}
	issues, err := tracker.ProjectIssues(ctx, client, doc.Projects())
	if err != nil {
		return report, fmt.Errorf("list project issues: %w", err)
	}

	for _, issue := range issues {
		report.Scanned++
		customerID, ok := customerID(issue.CustomFieldsByName[field])
		if !ok {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{"issue_id": issue.ID, "customer_id": customerID})

		exists, err := s.accounts.AccountExists(ctx, customerID)
		if err != nil {
			log.WithError(err).Error("Account lookup failed; issue kept")
			continue
		}
		if exists {
			continue
		}

		log.Warn("Purging issue for deleted account")
		if err := client.DeleteIssue(ctx, issue.ID); err != nil {
			report.Failed++
			log.WithError(err).Error("Failed to purge issue")
			continue
		}
		report.Deleted = append(report.Deleted, issue.ID)
	}
	return report, nil
}

func customerID(value string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
