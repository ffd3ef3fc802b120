package mapping

// NotApplicable replaces text and brief description when a rule does not
// reference a form field for them.
const NotApplicable = "N.A."

// TicketRequest is everything needed to create one tracker issue. All names
// come from the routing document; Category is the tracker issue-category name
// and is empty when the category block has no subcategory routing.
type TicketRequest struct {
	Project          string
	Tracker          string
	Category         string
	Text             string
	BriefDescription string
	Uploads          []string
}

type Resolution struct {
	InquiryType      string
	Rule             *Rule
	Text             string
	BriefDescription string
	// Ticket is nil when the rule has no category routing.
	Ticket *TicketRequest
	// Warnings are problems that did not stop resolution.
	Warnings []*ConfigError
}

// Resolve walks the routing document for one submission.
//
// On a routing error the returned Resolution still carries the rule, text
// and brief description so notifications can be planned without a ticket.
// UnknownInquiryType is the only error that leaves Rule nil.
func Resolve(inquiryType string, fields Fields, doc *Document) (Resolution, error) {
	res := Resolution{InquiryType: inquiryType}

	rule, ok := doc.Rule(inquiryType)
	if !ok {
		return res, &ConfigError{Kind: UnknownInquiryType, InquiryType: inquiryType}
	}
	res.Rule = rule
	res.Text = res.reference(fields, rule.TextField)
	res.BriefDescription = res.reference(fields, rule.BriefDescription)

	ticket, err := res.route(fields)
	if err != nil || ticket == nil {
		return res, err
	}
	ticket.Text = res.Text
	ticket.BriefDescription = res.BriefDescription
	ticket.Uploads = res.uploads(fields)
	res.Ticket = ticket
	return res, nil
}

func (res *Resolution) reference(fields Fields, ref *string) string {
	if ref == nil {
		return NotApplicable
	}
	value, ok := fields.Text(*ref)
	if !ok {
		res.warn(UnknownFieldReference, *ref)
	}
	return value
}

func (res *Resolution) route(fields Fields) (*TicketRequest, error) {
	rule := res.Rule

	state, missing := rule.categoryGroup()
	switch state {
	case GroupAbsent:
		return nil, nil
	case GroupIncomplete:
		return nil, res.fail(IncompleteCategoryBlock, "category", "", missing)
	}

	label, _ := fields.Text(*rule.CategoryField)
	category, ok := rule.Categories[label]
	if !ok {
		return nil, res.fail(UnknownCategory, *rule.CategoryField, label, nil)
	}

	if state, missing := category.targetGroup(); state != GroupComplete {
		if missing == nil {
			missing = []string{"project", "tracker"}
		}
		return nil, res.fail(MissingProjectOrTracker, *rule.CategoryField, label, missing)
	}
	ticket := &TicketRequest{Project: *category.Project, Tracker: *category.Tracker}

	state, missing = category.subcategoryGroup()
	switch state {
	case GroupAbsent:
		return ticket, nil
	case GroupIncomplete:
		return nil, res.fail(IncompleteSubcategoryBlock, "subcategory", label, missing)
	}

	subLabel, ok := fields.Text(*category.SubcategoryField)
	if !ok {
		return nil, res.fail(UnknownFieldReference, *category.SubcategoryField, "", nil)
	}
	issueCategory, ok := category.Subcategories[subLabel]
	if !ok {
		return nil, res.fail(UnknownSubcategory, *category.SubcategoryField, subLabel, nil)
	}
	ticket.Category = issueCategory
	return ticket, nil
}

// uploads never fails: an unknown field reference means no attachments.
func (res *Resolution) uploads(fields Fields) []string {
	ref := res.Rule.FileUploadsField
	if ref == nil {
		return nil
	}
	urls, ok := fields.List(*ref)
	if !ok {
		res.warn(UnknownFieldReference, *ref)
		return nil
	}
	return urls
}

func (res *Resolution) fail(kind Kind, field, value string, missing []string) *ConfigError {
	return &ConfigError{
		Kind:        kind,
		InquiryType: res.InquiryType,
		Field:       field,
		Value:       value,
		Missing:     missing,
	}
}

func (res *Resolution) warn(kind Kind, field string) {
	res.Warnings = append(res.Warnings, res.fail(kind, field, "", nil))
}
