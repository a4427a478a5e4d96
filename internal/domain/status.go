package domain

// CaseStatus is the remote-driven lifecycle status of a case. The ticketing
// system owns all transitions; this service only mirrors them. Resolved is
// terminal except for an explicit reopen, which clears ResolvedAt.
type CaseStatus string

// Known case statuses as reported by the ticketing system.
const (
	StatusOpened            CaseStatus = "opened"
	StatusPendingCustomer   CaseStatus = "pending-customer-action"
	StatusCustomerCompleted CaseStatus = "customer-action-completed"
	StatusReopened          CaseStatus = "reopened"
	StatusResolved          CaseStatus = "resolved"
	StatusUnassigned        CaseStatus = "unassigned"
	StatusWorkInProgress    CaseStatus = "work-in-progress"
)

// statusDisplay maps raw statuses to the labels used in notifications.
var statusDisplay = map[CaseStatus]string{
	StatusOpened:            "Opened",
	StatusPendingCustomer:   "Pending customer action",
	StatusCustomerCompleted: "Customer action completed",
	StatusReopened:          "Reopened",
	StatusResolved:          "Resolved",
	StatusUnassigned:        "Unassigned",
	StatusWorkInProgress:    "Work in progress",
}

// Display returns the human-readable label for s, falling back to the raw
// status string for values this build does not know about.
func (s CaseStatus) Display() string {
	if d, ok := statusDisplay[s]; ok {
		return d
	}
	return string(s)
}

// IsResolved reports whether s is the terminal resolved status.
func (s CaseStatus) IsResolved() bool { return s == StatusResolved }
