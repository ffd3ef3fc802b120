package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskbridge/internal/render"
	"deskbridge/internal/tracker"
)

const listingTimeout = 2 * time.Minute

// cacheKey normalizes the shortcode attributes so "New, Closed" and
// "New,Closed" share one entry.
func cacheKey(project, statuses string) (string, string) {
	return strings.TrimSpace(project), strings.Join(tracker.SplitStatuses(statuses), ",")
}

// RenderIssueTable returns the cached table for (project, statuses),
// building and storing it on a miss. The viewer style is added per call and
// never cached.
func (s *Service) RenderIssueTable(ctx context.Context, project, statuses string, viewerID int) (string, error) {
	project, statuses = cacheKey(project, statuses)

	entry, ok, err := s.store.GetIssueCache(ctx, project, statuses)
	if err != nil {
		return "", fmt.Errorf("read issue cache: %w", err)
	}
	payload := entry.Payload
	if !ok {
		// The shared fetch outlives any single caller; each caller may
		// still give up on its own context.
		shared := s.listings.DoChan(project+"\x00"+statuses, func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listingTimeout)
			defer cancel()
			payload, err := s.BuildListing(fetchCtx, project, statuses)
			if err != nil {
				return "", err
			}
			if err := s.store.UpsertIssueCache(fetchCtx, project, statuses, payload); err != nil {
				return "", fmt.Errorf("store issue cache: %w", err)
			}
			return payload, nil
		})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-shared:
			if res.Err != nil {
				return "", res.Err
			}
			payload = res.Val.(string)
		}
	}
	return payload + render.ViewerStyle(viewerID), nil
}

// BuildListing fetches and renders one issue table from the tracker.
func (s *Service) BuildListing(ctx context.Context, project, statuses string) (string, error) {
	client, err := s.settings.Tracker(ctx)
	if err != nil {
		return "", err
	}
	fieldID, err := s.customerFieldID(ctx, client)
	if err != nil {
		return "", err
	}
	issues, err := tracker.FetchListing(ctx, client, project, tracker.SplitStatuses(statuses))
	if err != nil {
		return "", err
	}
	return render.IssueTable(issues, fieldID), nil
}

// SupportRequests renders the tracker issues filed by userID across every
// project the routing document names.
func (s *Service) SupportRequests(ctx context.Context, userID int) (string, error) {
	doc, err := s.settings.Mapping(ctx)
	if err != nil {
		return "", fmt.Errorf("load routing document: %w", err)
	}
	client, err := s.settings.Tracker(ctx)
	if err != nil {
		return "", err
	}
	fieldID, err := s.customerFieldID(ctx, client)
	if err != nil {
		return "", err
	}
	issues, err := tracker.ProjectIssues(ctx, client, doc.Projects())
	if err != nil {
		return "", err
	}
	return render.SupportRequests(issues, userID, fieldID), nil
}

// customerFieldID treats a configured but unknown field as absent, so
// tables still render without the customer row class.
func (s *Service) customerFieldID(ctx context.Context, client tracker.Client) (int, error) {
	name, err := s.settings.CustomerIDField(ctx)
	if err != nil {
		return 0, err
	}
	id, err := tracker.CustomerFieldID(ctx, client, name)
	if errors.Is(err, tracker.ErrNotFound) {
		s.logger.WithField("field", name).Warn("Customer id field not found in tracker")
		return 0, nil
	}
	return id, err
}
