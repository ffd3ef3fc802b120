package mapping

import (
	"errors"
	"fmt"
)

type Kind int

const (
	UnknownInquiryType Kind = iota + 1
	IncompleteCategoryBlock
	UnknownCategory
	MissingProjectOrTracker
	IncompleteSubcategoryBlock
	UnknownSubcategory
	UnknownFieldReference
	IncompleteNotificationBlock
)

func (k Kind) String() string {
	switch k {
	case UnknownInquiryType:
		return "unknown_inquiry_type"
	case IncompleteCategoryBlock:
		return "incomplete_category_block"
	case UnknownCategory:
		return "unknown_category"
	case MissingProjectOrTracker:
		return "missing_project_or_tracker"
	case IncompleteSubcategoryBlock:
		return "incomplete_subcategory_block"
	case UnknownSubcategory:
		return "unknown_subcategory"
	case UnknownFieldReference:
		return "unknown_field_reference"
	case IncompleteNotificationBlock:
		return "incomplete_notification_block"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConfigError reports a schema or reference problem in the routing document.
type ConfigError struct {
	Kind        Kind
	InquiryType string
	// Field is the form field or block involved, when there is one.
	Field string
	// Value is the submitted value that failed to resolve.
	Value string
	// Missing lists the keys absent from a partially specified block.
	Missing []string
}

func (e *ConfigError) Error() string {
	prefix := fmt.Sprintf("inquiry type %q", e.InquiryType)
	switch e.Kind {
	case UnknownInquiryType:
		return prefix + ": not configured"
	case IncompleteCategoryBlock, IncompleteSubcategoryBlock, IncompleteNotificationBlock:
		return fmt.Sprintf("%s: %s block is missing %v; include all of the keys or none", prefix, e.Field, e.Missing)
	case UnknownCategory:
		return fmt.Sprintf("%s: unknown issue category %q", prefix, e.Value)
	case MissingProjectOrTracker:
		return fmt.Sprintf("%s: category %q is missing %v", prefix, e.Value, e.Missing)
	case UnknownSubcategory:
		return fmt.Sprintf("%s: unknown subcategory %q", prefix, e.Value)
	case UnknownFieldReference:
		return fmt.Sprintf("%s: unknown form field %q", prefix, e.Field)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
}

// Is matches any *ConfigError of the same Kind, so errors.Is(err,
// &ConfigError{Kind: UnknownCategory}) works.
func (e *ConfigError) Is(target error) bool {
	var other *ConfigError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf returns the Kind of the first ConfigError in err's chain, or 0.
func KindOf(err error) Kind {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Kind
	}
	return 0
}
