// Package uploads locates files attached to form submissions.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrUnreadable = errors.New("upload is not a readable file")

// Source turns an upload URL into a local file the tracker client can read.
// Consume removes the upload once a ticket carrying it has been created.
type Source interface {
	Fetch(ctx context.Context, ref string) (localPath string, cleanup func(), err error)
	Consume(ctx context.Context, ref string) error
}

// urlPath extracts the cleaned path component of an upload reference.
func urlPath(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse upload url %q: %w", ref, err)
	}
	p := path.Clean("/" + u.Path)
	if p == "/" {
		return "", fmt.Errorf("upload url %q has no path", ref)
	}
	return p, nil
}

// FileSource serves uploads the forms plugin wrote under Root, which plays
// the part of the web root the upload URLs are relative to.
type FileSource struct {
	Root string
}

func (s FileSource) localPath(ref string) (string, error) {
	p, err := urlPath(ref)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", fmt.Errorf("resolve upload root: %w", err)
	}
	full := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("upload %q escapes the upload root", ref)
	}
	return full, nil
}

func (s FileSource) Fetch(_ context.Context, ref string) (string, func(), error) {
	full, err := s.localPath(ref)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%s: %w", full, ErrUnreadable)
	}
	f, err := os.Open(full)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", full, ErrUnreadable)
	}
	f.Close()
	return full, func() {}, nil
}

func (s FileSource) Consume(_ context.Context, ref string) error {
	full, err := s.localPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
