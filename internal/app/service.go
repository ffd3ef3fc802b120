package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"deskbridge/internal/auth"
	"deskbridge/internal/config"
	"deskbridge/internal/email"
	"deskbridge/internal/rbac"
	"deskbridge/internal/settings"
	"deskbridge/internal/store"
	"deskbridge/internal/uploads"
)

// Session is the caller identified by a bearer token.
type Session struct {
	UserID    int
	UserName  string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	GetIssueCache(context.Context, string, string) (store.CacheEntry, bool, error)
	UpsertIssueCache(context.Context, string, string, string) error
	ListIssueCache(context.Context) ([]store.CacheEntry, error)
	DropIssueCache(context.Context) error
	UpsertAccount(context.Context, store.Account) error
	DeleteAccount(context.Context, int64) (bool, error)
	AccountExists(context.Context, int64) (bool, error)
	InsertHistory(context.Context, int64, string, string) (store.HistoryEntry, error)
	ListHistory(context.Context, int64) ([]store.HistoryEntry, error)
}

type mailer interface {
	IsConfigured() bool
	Send(context.Context, email.Message) error
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	settings *settings.Store
	mailer   mailer
	uploads  uploads.Source
	logger   *logrus.Logger
	checks   map[string]func(context.Context) error

	listings singleflight.Group
}

func New(
	cfg config.Config,
	dataStore *store.SQLStore,
	settingsStore *settings.Store,
	mailService *email.Service,
	source uploads.Source,
	logger *logrus.Logger,
) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		settings: settingsStore,
		mailer:   mailService,
		uploads:  source,
		logger:   logger,
	}
	if p, ok := source.(pinger); ok {
		svc.AddCheck("uploads", p.Ping)
	}
	return svc
}

// AddCheck registers a dependency probed by the readiness endpoint.
func (s *Service) AddCheck(name string, check func(context.Context) error) {
	if s.checks == nil {
		s.checks = map[string]func(context.Context) error{}
	}
	s.checks[name] = check
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

// Checks probes the database and every registered dependency. A nil
// error means the dependency is healthy.
func (s *Service) Checks(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.store.Ping(ctx)}
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    userID,
		UserName:  claims.Name,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Settings(ctx context.Context) (settings.Snapshot, error) {
	return s.settings.Snapshot(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, update settings.Update) error {
	if err := s.settings.Update(ctx, update); err != nil {
		return err
	}
	s.logger.WithField("url", strings.TrimSpace(update.URL)).Info("Settings updated")
	return nil
}

func (s *Service) UpdateSecrets(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &settings.ValidationError{Field: "key", Message: "key is required"}
	}
	if err := s.settings.SetAPIKey(ctx, apiKey); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	s.logger.Info("Tracker API key updated")
	return nil
}

// Uninstall removes stored settings and every cached issue table.
func (s *Service) Uninstall(ctx context.Context) error {
	if err := s.settings.Uninstall(ctx); err != nil {
		return err
	}
	return s.store.DropIssueCache(ctx)
}

// SyncAccount records or refreshes a host-site account.
func (s *Service) SyncAccount(ctx context.Context, account store.Account) error {
	if account.ID <= 0 {
		return validationError("account id must be positive")
	}
	account.Login = strings.TrimSpace(account.Login)
	account.DisplayName = strings.TrimSpace(account.DisplayName)
	account.Email = strings.TrimSpace(account.Email)
	return s.store.UpsertAccount(ctx, account)
}

// RemoveAccount forgets an account. Its tracker issues go at the next purge.
func (s *Service) RemoveAccount(ctx context.Context, id int64) (bool, error) {
	removed, err := s.store.DeleteAccount(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.WithField("user_id", id).Info("Account removed")
	}
	return removed, nil
}

func (s *Service) History(ctx context.Context, userID int64) ([]store.HistoryEntry, error) {
	return s.store.ListHistory(ctx, userID)
}

// IssueCache lists cached tables for operators.
func (s *Service) IssueCache(ctx context.Context) ([]store.CacheEntry, error) {
	return s.store.ListIssueCache(ctx)
}
