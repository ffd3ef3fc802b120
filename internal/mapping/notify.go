package mapping

import "errors"

// NotificationPlan says what to send. Rendering and delivery happen elsewhere.
type NotificationPlan struct {
	// Recipient is empty when ToSubmitter is set; the dispatcher fills in
	// the submitter's address.
	Recipient        string
	ToSubmitter      bool
	Subject          string
	Template         string
	Text             string
	BriefDescription string
}

type Plans struct {
	Internal *NotificationPlan
	Customer *NotificationPlan
}

// PlanNotifications validates the internal and customer blocks
// independently. An incomplete block yields an IncompleteNotificationBlock
// error but does not suppress the other block's plan.
func PlanNotifications(inquiryType string, rule *Rule, text, brief string) (Plans, error) {
	var (
		plans Plans
		errs  []error
	)
	if rule == nil {
		return plans, nil
	}

	switch state, missing := rule.internalGroup(); state {
	case GroupComplete:
		plans.Internal = &NotificationPlan{
			Recipient:        *rule.InternalAddress,
			Subject:          *rule.InternalSubject,
			Template:         *rule.InternalTemplate,
			Text:             text,
			BriefDescription: brief,
		}
	case GroupIncomplete:
		errs = append(errs, &ConfigError{
			Kind:        IncompleteNotificationBlock,
			InquiryType: inquiryType,
			Field:       "internal-email",
			Missing:     missing,
		})
	}

	switch state, missing := rule.customerGroup(); state {
	case GroupComplete:
		plans.Customer = &NotificationPlan{
			ToSubmitter:      true,
			Subject:          *rule.CustomerSubject,
			Template:         *rule.CustomerTemplate,
			Text:             text,
			BriefDescription: brief,
		}
	case GroupIncomplete:
		errs = append(errs, &ConfigError{
			Kind:        IncompleteNotificationBlock,
			InquiryType: inquiryType,
			Field:       "customer-email",
			Missing:     missing,
		})
	}

	return plans, errors.Join(errs...)
}
