package email

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Vars are the values available to notification templates.
type Vars struct {
	DisplayName      string
	Email            string
	Username         string
	Message          string
	BriefDescription string
	SiteURL          string
}

func (v Vars) data() map[string]string {
	return map[string]string{
		"display_name":      v.DisplayName,
		"email":             v.Email,
		"username":          v.Username,
		"message":           v.Message,
		"brief_description": v.BriefDescription,
		"site_url":          v.SiteURL,
	}
}

// Templates renders notification templates from a directory. Templates
// reference variables as {{.display_name}}, {{.message}} and so on.
// Files ending in .md are executed as text and converted to HTML; raw HTML
// inside markdown is dropped.
type Templates struct {
	Dir string
}

func (t Templates) Render(name string, vars Vars) (string, error) {
	path, err := t.resolve(name)
	if err != nil {
		return "", err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}

	if strings.EqualFold(filepath.Ext(name), ".md") {
		return renderMarkdown(name, string(source), vars)
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(string(source))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars.data()); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (t Templates) resolve(name string) (string, error) {
	if strings.TrimSpace(t.Dir) == "" {
		return "", fmt.Errorf("template directory not configured")
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("template %q is outside the template directory", name)
	}
	return filepath.Join(t.Dir, clean), nil
}

func renderMarkdown(name, source string, vars Vars) (string, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var text bytes.Buffer
	if err := tmpl.Execute(&text, vars.data()); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	converter := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	var out bytes.Buffer
	if err := converter.Convert(text.Bytes(), &out); err != nil {
		return "", fmt.Errorf("convert markdown %s: %w", name, err)
	}
	return out.String(), nil
}
