package mapping

// GroupState is the result of checking one all-or-nothing key group.
type GroupState int

const (
	GroupAbsent GroupState = iota
	GroupComplete
	GroupIncomplete
)

type groupKey struct {
	name    string
	present bool
}

func checkGroup(keys ...groupKey) (GroupState, []string) {
	var missing []string
	for _, key := range keys {
		if !key.present {
			missing = append(missing, key.name)
		}
	}
	switch len(missing) {
	case 0:
		return GroupComplete, nil
	case len(keys):
		return GroupAbsent, nil
	default:
		return GroupIncomplete, missing
	}
}

func (r *Rule) categoryGroup() (GroupState, []string) {
	return checkGroup(
		groupKey{"category-field", r.CategoryField != nil},
		groupKey{"categories", r.Categories != nil},
	)
}

func (r *Rule) internalGroup() (GroupState, []string) {
	return checkGroup(
		groupKey{"internal-subject", r.InternalSubject != nil},
		groupKey{"internal-email-template", r.InternalTemplate != nil},
		groupKey{"internal-email-address", r.InternalAddress != nil},
	)
}

func (r *Rule) customerGroup() (GroupState, []string) {
	return checkGroup(
		groupKey{"customer-subject", r.CustomerSubject != nil},
		groupKey{"customer-email-template", r.CustomerTemplate != nil},
	)
}

func (c Category) subcategoryGroup() (GroupState, []string) {
	return checkGroup(
		groupKey{"subcategory-field", c.SubcategoryField != nil},
		groupKey{"subcategories", c.Subcategories != nil},
	)
}

func (c Category) targetGroup() (GroupState, []string) {
	return checkGroup(
		groupKey{"project", c.Project != nil},
		groupKey{"tracker", c.Tracker != nil},
	)
}
