package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"deskbridge/internal/email"
	"deskbridge/internal/mapping"
	"deskbridge/internal/render"
	"deskbridge/internal/store"
	"deskbridge/internal/tracker"
)

// Submitter is the host-site account behind a form submission.
type Submitter struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// DispatchResult reports what one submission produced. Problems are
// already logged; they are returned so the caller can surface them.
type DispatchResult struct {
	Ignored     bool     `json:"ignored,omitempty"`
	InquiryType string   `json:"inquiryType,omitempty"`
	IssueID     int      `json:"issueId,omitempty"`
	Notified    []string `json:"notified"`
	Problems    []string `json:"problems,omitempty"`
}

func (r *DispatchResult) problem(log *logrus.Entry, err error, msg string) {
	log.WithError(err).Error(msg)
	r.Problems = append(r.Problems, fmt.Sprintf("%s: %v", msg, err))
}

// LogIssue routes one form submission: it files a tracker issue when the
// rule routes to one, sends the configured notifications and records a
// support-request history entry. Routing and delivery problems never stop
// the remaining steps; only failing to load the routing document does.
func (s *Service) LogIssue(ctx context.Context, sub Submitter, fields mapping.Fields) (DispatchResult, error) {
	result := DispatchResult{Notified: []string{}}
	if sub.ID == 0 {
		result.Ignored = true
		return result, nil
	}

	// Submitters are known accounts; purge relies on the directory.
	account := store.Account{ID: sub.ID, Login: sub.Login, DisplayName: sub.DisplayName, Email: sub.Email}
	if err := s.SyncAccount(ctx, account); err != nil {
		s.logger.WithError(err).WithField("user_id", sub.ID).Error("Failed to record submitter account")
	}

	doc, err := s.settings.Mapping(ctx)
	if err != nil {
		return result, fmt.Errorf("load routing document: %w", err)
	}
	inquiryType, _ := fields.Text(doc.InquiryField)
	result.InquiryType = inquiryType
	log := s.logger.WithFields(logrus.Fields{"user_id": sub.ID, "inquiry_type": inquiryType})

	res, err := mapping.Resolve(inquiryType, fields, doc)
	for _, warning := range res.Warnings {
		log.WithError(warning).Warn("Routing document warning")
		result.Problems = append(result.Problems, warning.Error())
	}
	if res.Rule == nil {
		result.problem(log, err, "Submission not routed")
		return result, nil
	}
	if err != nil {
		result.problem(log, err, "Ticket not created")
	}

	if res.Ticket != nil {
		issueID, err := s.fileTicket(ctx, log, sub, res.Ticket)
		if err != nil {
			result.problem(log, err, "Ticket not created")
		}
		result.IssueID = issueID
	}

	plans, err := mapping.PlanNotifications(inquiryType, res.Rule, res.Text, res.BriefDescription)
	if err != nil {
		result.problem(log, err, "Notification skipped")
	}
	if s.notify(ctx, log, sub, plans.Internal) {
		result.Notified = append(result.Notified, "internal")
	}
	if s.notify(ctx, log, sub, plans.Customer) {
		result.Notified = append(result.Notified, "customer")
	}

	detail := inquiryType + " - " + res.BriefDescription
	if _, err := s.store.InsertHistory(ctx, sub.ID, store.HistorySupportRequest, detail); err != nil {
		log.WithError(err).Error("Failed to record support request history")
	}
	return result, nil
}

// fileTicket resolves every tracker name before creating anything, so an
// unknown project, tracker, field or category leaves no partial issue.
func (s *Service) fileTicket(ctx context.Context, log *logrus.Entry, sub Submitter, ticket *mapping.TicketRequest) (int, error) {
	client, err := s.settings.Tracker(ctx)
	if err != nil {
		return 0, err
	}

	issue := tracker.NewIssue{Subject: ticket.BriefDescription, Description: ticket.Text}
	if issue.ProjectID, err = client.ProjectID(ctx, ticket.Project); err != nil {
		return 0, fmt.Errorf("unknown project %q: %w", ticket.Project, err)
	}
	if issue.TrackerID, err = client.TrackerID(ctx, ticket.Tracker); err != nil {
		return 0, fmt.Errorf("unknown tracker %q: %w", ticket.Tracker, err)
	}

	fieldName, err := s.settings.CustomerIDField(ctx)
	if err != nil {
		return 0, err
	}
	if fieldName != "" {
		fieldID, err := client.CustomFieldID(ctx, fieldName)
		if err != nil {
			return 0, fmt.Errorf("unknown custom field %q: %w", fieldName, err)
		}
		issue.CustomFields = []tracker.CustomFieldValue{{
			ID:    fieldID,
			Name:  fieldName,
			Value: strconv.FormatInt(sub.ID, 10),
		}}
	}
	if ticket.Category != "" {
		if issue.CategoryID, err = client.IssueCategoryID(ctx, issue.ProjectID, ticket.Category); err != nil {
			return 0, fmt.Errorf("unknown issue category %q: %w", ticket.Category, err)
		}
	}

	var consumed []string
	for _, ref := range ticket.Uploads {
		attachment, err := s.attach(ctx, client, sub, ref)
		if err != nil {
			log.WithError(err).WithField("upload", ref).Error("Unable to attach uploaded file")
			continue
		}
		issue.Uploads = append(issue.Uploads, attachment)
		consumed = append(consumed, ref)
	}

	issueID, err := client.CreateIssue(ctx, issue)
	if err != nil {
		return 0, err
	}
	log.WithField("issue_id", issueID).Info("Tracker issue created")

	for _, ref := range consumed {
		if err := s.uploads.Consume(ctx, ref); err != nil {
			log.WithError(err).WithField("upload", ref).Warn("Failed to delete attached upload")
		}
	}
	return issueID, nil
}

func (s *Service) attach(ctx context.Context, client tracker.Client, sub Submitter, ref string) (tracker.Attachment, error) {
	if s.uploads == nil {
		return tracker.Attachment{}, errors.New("no upload source configured")
	}
	localPath, cleanup, err := s.uploads.Fetch(ctx, ref)
	if err != nil {
		return tracker.Attachment{}, err
	}
	defer cleanup()

	attachment, err := client.UploadFile(ctx, localPath)
	if err != nil {
		return tracker.Attachment{}, err
	}
	attachment.Description = render.SupportRequestPrefix(int(sub.ID)) + filepath.Base(localPath)
	return attachment, nil
}

// notify renders and sends one planned message. It reports whether the
// message was handed to the mail server.
func (s *Service) notify(ctx context.Context, log *logrus.Entry, sub Submitter, plan *mapping.NotificationPlan) bool {
	if plan == nil {
		return false
	}
	recipient := plan.Recipient
	if plan.ToSubmitter {
		recipient = sub.Email
	}
	log = log.WithFields(logrus.Fields{
		"email":       sub.Email,
		"description": plan.BriefDescription,
		"template":    plan.Template,
	})
	if recipient == "" {
		log.Error("Notification has no recipient")
		return false
	}
	if !s.mailer.IsConfigured() {
		log.Warn("Email is not configured; notification skipped")
		return false
	}

	dir, err := s.settings.TemplateDirectory(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to read template directory")
		return false
	}
	body, err := email.Templates{Dir: dir}.Render(plan.Template, email.Vars{
		DisplayName:      sub.DisplayName,
		Email:            sub.Email,
		Username:         sub.Login,
		Message:          plan.Text,
		BriefDescription: plan.BriefDescription,
		SiteURL:          s.cfg.SiteURL,
	})
	if err != nil {
		log.WithError(err).Error("Failed to render notification")
		return false
	}

	if err := s.mailer.Send(ctx, email.Message{To: []string{recipient}, Subject: plan.Subject, HTML: body}); err != nil {
		log.WithError(err).Error("Failed to send notification")
		return false
	}
	return true
}
