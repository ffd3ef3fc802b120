// Package mapping resolves form submissions against the YAML routing document.
//
// The document maps an inquiry type to a Rule. A rule optionally routes the
// submission to a tracker project/tracker/issue category and optionally
// describes an internal and a customer notification. Every optional block is
// all-or-nothing; partially specified blocks are reported as ConfigError
// values rather than producing partial requests.
//
// Nothing in this package performs I/O.
package mapping

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// InquiryFieldKey is the top-level key naming the form field that carries
// the inquiry type.
const InquiryFieldKey = "type-of-inquiry-field"

type Document struct {
	InquiryField string
	rules        map[string]*Rule
	order        []string
}

type Rule struct {
	TextField        *string             `yaml:"text-field"`
	BriefDescription *string             `yaml:"brief-description"`
	CategoryField    *string             `yaml:"category-field"`
	Categories       map[string]Category `yaml:"categories"`
	FileUploadsField *string             `yaml:"file-uploads-field"`

	InternalSubject  *string `yaml:"internal-subject"`
	InternalTemplate *string `yaml:"internal-email-template"`
	InternalAddress  *string `yaml:"internal-email-address"`

	CustomerSubject  *string `yaml:"customer-subject"`
	CustomerTemplate *string `yaml:"customer-email-template"`
}

type Category struct {
	Project          *string           `yaml:"project"`
	Tracker          *string           `yaml:"tracker"`
	SubcategoryField *string           `yaml:"subcategory-field"`
	Subcategories    map[string]string `yaml:"subcategories"`
}

// Parse decodes a routing document. Parser errors are returned as-is so the
// admin API can show them.
func Parse(data []byte) (*Document, error) {
	doc := &Document{rules: map[string]*Rule{}}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: routing document must be a mapping", top.Line)
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		keyNode, valueNode := top.Content[i], top.Content[i+1]
		key := keyNode.Value

		if key == InquiryFieldKey {
			if err := valueNode.Decode(&doc.InquiryField); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", valueNode.Line, InquiryFieldKey, err)
			}
			continue
		}
		if valueNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: inquiry type %q must be a mapping", valueNode.Line, key)
		}

		var rule Rule
		if err := valueNode.Decode(&rule); err != nil {
			return nil, fmt.Errorf("line %d: inquiry type %q: %w", valueNode.Line, key, err)
		}
		if _, dup := doc.rules[key]; !dup {
			doc.order = append(doc.order, key)
		}
		doc.rules[key] = &rule
	}
	return doc, nil
}

func (d *Document) Rule(inquiryType string) (*Rule, bool) {
	if d == nil {
		return nil, false
	}
	rule, ok := d.rules[inquiryType]
	return rule, ok
}

// InquiryTypes returns the inquiry types in document order.
func (d *Document) InquiryTypes() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.order...)
}

// Projects lists the distinct tracker project names the document routes to.
func (d *Document) Projects() []string {
	if d == nil {
		return nil
	}
	seen := map[string]bool{}
	projects := make([]string, 0)
	for _, inquiryType := range d.order {
		rule := d.rules[inquiryType]
		labels := make([]string, 0, len(rule.Categories))
		for label := range rule.Categories {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			project := rule.Categories[label].Project
			if project == nil || seen[*project] {
				continue
			}
			seen[*project] = true
			projects = append(projects, *project)
		}
	}
	return projects
}
