package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fields holds submitted form values by field key. Values are whatever the
// JSON decoder produced: strings, numbers, bools, lists or objects.
type Fields map[string]any

// Text returns the field rendered as a string.
func (f Fields) Text(key string) (string, bool) {
	value, ok := f[key]
	if !ok {
		return "", false
	}
	return scalar(value), true
}

// List returns the field as a list of strings. File upload fields arrive as
// either a list or an object of id to URL; a single string is one element.
func (f Fields) List(key string) ([]string, bool) {
	value, ok := f[key]
	if !ok {
		return nil, false
	}
	switch v := value.(type) {
	case nil:
		return nil, true
	case []string:
		return compact(v), true
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, scalar(item))
		}
		return compact(items), true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, k := range keys {
			items = append(items, scalar(v[k]))
		}
		return compact(items), true
	default:
		return compact([]string{scalar(v)}), true
	}
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}
	return out
}
