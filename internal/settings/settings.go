// Package settings owns the bridge's persisted configuration: tracker URL,
// sealed API key, template directory, customer-ID field name and the raw
// routing document.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"deskbridge/internal/mapping"
	"deskbridge/internal/secretbox"
	"deskbridge/internal/tracker"
)

const optionPrefix = "deskbridge_"

const (
	KeyClientURL         = "client_url"
	KeyAPIKeyCipher      = "client_api_key_1"
	KeyAPIKeyNonce       = "client_api_key_2"
	KeyTemplateDirectory = "template_directory"
	KeyCustomerIDField   = "customer_id_field"
	KeySettings          = "settings"
	KeyVersion           = "version"
)

var allKeys = []string{
	KeyClientURL,
	KeyAPIKeyCipher,
	KeyAPIKeyNonce,
	KeyTemplateDirectory,
	KeyCustomerIDField,
	KeySettings,
	KeyVersion,
}

var ErrNotConfigured = errors.New("tracker is not configured")

// OptionStore is the key/value persistence the settings live in.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
	DeleteOption(ctx context.Context, name string) error
}

type Store struct {
	options            OptionStore
	sealer             *secretbox.Sealer
	trackers           tracker.Factory
	defaultTemplateDir string

	// mapping memo, keyed by the raw document it was parsed from
	mu     sync.Mutex
	memoOK bool
	raw    string
	doc    *mapping.Document
	docErr error
}

func New(options OptionStore, sealer *secretbox.Sealer, trackers tracker.Factory, defaultTemplateDir string) *Store {
	return &Store{
		options:            options,
		sealer:             sealer,
		trackers:           trackers,
		defaultTemplateDir: defaultTemplateDir,
	}
}

func (s *Store) get(ctx context.Context, key, fallback string) (string, error) {
	value, ok, err := s.options.GetOption(ctx, optionPrefix+key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	return s.options.SetOption(ctx, optionPrefix+key, value)
}

func (s *Store) ClientURL(ctx context.Context) (string, error) {
	return s.get(ctx, KeyClientURL, "")
}

func (s *Store) SetClientURL(ctx context.Context, url string) error {
	return s.set(ctx, KeyClientURL, strings.TrimSpace(url))
}

// APIKey returns the stored tracker API key, or "" when none is stored or the
// sealed value no longer opens (for example after a master key change).
func (s *Store) APIKey(ctx context.Context) (string, error) {
	cipher, err := s.get(ctx, KeyAPIKeyCipher, "")
	if err != nil {
		return "", err
	}
	nonce, err := s.get(ctx, KeyAPIKeyNonce, "")
	if err != nil {
		return "", err
	}
	if cipher == "" || nonce == "" {
		return "", nil
	}
	key, err := s.sealer.OpenString(cipher, nonce)
	if err != nil {
		return "", nil
	}
	return key, nil
}

func (s *Store) SetAPIKey(ctx context.Context, apiKey string) error {
	cipher, nonce, err := s.sealer.SealString(apiKey)
	if err != nil {
		return err
	}
	if err := s.set(ctx, KeyAPIKeyCipher, cipher); err != nil {
		return err
	}
	return s.set(ctx, KeyAPIKeyNonce, nonce)
}

func (s *Store) TemplateDirectory(ctx context.Context) (string, error) {
	return s.get(ctx, KeyTemplateDirectory, s.defaultTemplateDir)
}

func (s *Store) CustomerIDField(ctx context.Context) (string, error) {
	value, err := s.get(ctx, KeyCustomerIDField, "")
	return strings.TrimSpace(value), err
}

func (s *Store) RawSettings(ctx context.Context) (string, error) {
	return s.get(ctx, KeySettings, "")
}

// SetSettings stores a routing document after checking that it parses.
func (s *Store) SetSettings(ctx context.Context, raw string) error {
	if _, err := mapping.Parse([]byte(raw)); err != nil {
		return &ValidationError{Field: "settings", Message: "Invalid YAML: " + err.Error()}
	}
	if err := s.set(ctx, KeySettings, raw); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Version is the release that last migrated the stored options.
func (s *Store) Version(ctx context.Context) (string, error) {
	return s.get(ctx, KeyVersion, "")
}

func (s *Store) SetVersion(ctx context.Context, version string) error {
	return s.set(ctx, KeyVersion, version)
}

// Mapping returns the parsed routing document. The parse is memoized until
// the stored document changes, so edits made by another instance are
// picked up on the next call.
func (s *Store) Mapping(ctx context.Context) (*mapping.Document, error) {
	raw, err := s.RawSettings(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.memoOK || s.raw != raw {
		s.doc, s.docErr = mapping.Parse([]byte(raw))
		s.raw = raw
		s.memoOK = true
	}
	return s.doc, s.docErr
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.memoOK = false
	s.doc, s.docErr = nil, nil
	s.mu.Unlock()
}

// Tracker builds a client from the stored URL and API key.
func (s *Store) Tracker(ctx context.Context) (tracker.Client, error) {
	url, err := s.ClientURL(ctx)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, ErrNotConfigured
	}
	key, err := s.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	return s.trackers(url, key), nil
}

// Snapshot is the view returned to administrators. The API key is never
// included.
type Snapshot struct {
	URL               string `json:"url"`
	TemplateDirectory string `json:"templateDirectory"`
	CustomerIDField   string `json:"customerIdField"`
	Settings          string `json:"settings"`
	HasAPIKey         bool   `json:"hasApiKey"`
	Version           string `json:"version"`
	// InquiryTypes is empty when no valid routing document is stored.
	InquiryTypes []string `json:"inquiryTypes"`
}

func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if snap.URL, err = s.ClientURL(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.TemplateDirectory, err = s.TemplateDirectory(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.CustomerIDField, err = s.CustomerIDField(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Settings, err = s.RawSettings(ctx); err != nil {
		return Snapshot{}, err
	}
	key, err := s.APIKey(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.HasAPIKey = key != ""
	if snap.Version, err = s.Version(ctx); err != nil {
		return Snapshot{}, err
	}
	snap.InquiryTypes = []string{}
	if doc, err := s.Mapping(ctx); err == nil {
		snap.InquiryTypes = doc.InquiryTypes()
	}
	return snap, nil
}

// Uninstall deletes every stored option.
func (s *Store) Uninstall(ctx context.Context) error {
	for _, key := range allKeys {
		if err := s.options.DeleteOption(ctx, optionPrefix+key); err != nil {
			return fmt.Errorf("delete option %s: %w", key, err)
		}
	}
	s.invalidate()
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
