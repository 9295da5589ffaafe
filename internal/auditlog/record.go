// Package auditlog recognizes admin panel audit lines and turns them into
// report records.
package auditlog

import "strings"

// Section is the report section a record belongs to.
type Section string

// Sections used by the audit report.
const (
	SectionCustomer     Section = "Customer"
	SectionUser         Section = "User"
	SectionTransactions Section = "Transactions"
	SectionWireWindow   Section = "Wire Window"
)

// Title is the admin panel page an action was taken on.
type Title string

// Page titles used by the audit report.
const (
	TitleCustomer   Title = "ADMIN PANEL / CUSTOMER"
	TitleAccount    Title = "ADMIN PANEL / ACCOUNT"
	TitleAuthorizer Title = "ADMIN PANEL / PENDING AUTHORIZER"
	TitleManagement Title = "ADMIN PANEL / USER MANAGEMENT"
	TitleWire       Title = "ADMIN PANEL / WIRE"
	TitleHybrid     Title = "ADMIN PANEL / HYBRID TRANSACTIONS"
	TitleWindow     Title = "ADMIN PANEL / CHANGE WIRE WINDOW"
	TitleEntity     Title = "ADMIN PANEL / ADD NEW ENTITY"
)

// Label captions the value column of a record.
type Label string

// Field labels used by the audit report.
const (
	LabelCompanyName  Label = "Company Name"
	LabelRejectReason Label = "Reject Reason"
	LabelAccountType  Label = "Account Type"
	LabelAuthorizer   Label = "Authorizer Name"
	LabelUserName     Label = "User Name"
	LabelTxnAmount    Label = "Transaction Amount"
	LabelT24TxnID     Label = "T24 Transaction ID"
	LabelWireStatus   Label = "Wire Status"
	LabelFirmName     Label = "Firm Name"
)

// columns are the report field names in output order.
var columns = []string{"action_id", "timestamp", "user", "action", "section", "title", "label", "value"}

// Record is one row of the audit report.
type Record struct {
	ActionID  string
	Timestamp string
	User      string
	Action    string
	Section   Section
	Title     Title
	Label     Label
	Value     string
}

// Fields returns the record values in column order.
func (r Record) Fields() []string {
	return []string{
		r.ActionID,
		r.Timestamp,
		r.User,
		r.Action,
		string(r.Section),
		string(r.Title),
		string(r.Label),
		r.Value,
	}
}

// Columns returns the upper-cased column names of the report.
func Columns() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = strings.ToUpper(c)
	}
	return out
}

// Header returns the report header line without a trailing newline.
func Header() string {
	return strings.Join(Columns(), ",")
}
