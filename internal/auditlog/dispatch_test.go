package auditlog

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeUser struct {
	name      string
	companies []string
}

// fakeLookup resolves ids from in-memory maps and counts calls.
type fakeLookup struct {
	companies map[string]string
	users     map[string]fakeUser
	err       error
	calls     int
}

func (f *fakeLookup) CompanyName(_ context.Context, id string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.companies[id], nil
}

func (f *fakeLookup) UserDetails(_ context.Context, id string) (string, []string, error) {
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	u := f.users[id]
	return u.name, u.companies, nil
}

func auditLine(action string, fields ...string) string {
	parts := []string{
		"2024-03-01T10:15:00.000Z",
		"info:",
		"module=" + strings.TrimPrefix(Signature, "module=") + ",",
		"message=" + action + ",",
		"adminFullName=Ada Admin,",
	}
	return strings.Join(append(parts, fields...), " ")
}

func TestDispatch_UnrecognizedLines(t *testing.T) {
	d := NewDispatcher(&fakeLookup{})
	lines := []string{
		"",
		"2024-03-01T10:15:00.000Z info: GET /health 200",
		// Action without the signature.
		"2024-03-01T10:15:00.000Z module=lib/other.js, message=Approve Pending Customer,",
		// Signature without a known action.
		auditLine("Login Succeeded"),
	}
	for _, line := range lines {
		kind, records, err := d.Dispatch(context.Background(), line, "1")
		if err != nil {
			t.Fatalf("Dispatch(%q) error = %v", line, err)
		}
		if kind != Unrecognized {
			t.Errorf("Dispatch(%q) kind = %v, want %v", line, kind, Unrecognized)
		}
		if len(records) != 0 {
			t.Errorf("Dispatch(%q) returned %d records, want 0", line, len(records))
		}
	}
}

func TestDispatch_ApprovePendingCustomer(t *testing.T) {
	d := NewDispatcher(&fakeLookup{})
	line := auditLine("Approve Pending Customer", "customerName=Acme Corp")

	_, records, err := d.Dispatch(context.Background(), line, "3")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Dispatch() returned %d records, want 1", len(records))
	}

	want := Record{
		ActionID:  "3",
		Timestamp: "2024-03-01T10:15:00.000Z",
		User:      "Ada Admin",
		Action:    "Approve Pending Customer",
		Section:   SectionCustomer,
		Title:     TitleCustomer,
		Label:     LabelCompanyName,
		Value:     "Acme Corp",
	}
	if records[0] != want {
		t.Errorf("record = %+v, want %+v", records[0], want)
	}
}

func TestDispatch_RejectPendingCustomerResolvesCompany(t *testing.T) {
	lookup := &fakeLookup{companies: map[string]string{"7": "Acme Corp"}}
	d := NewDispatcher(lookup)
	line := auditLine("Reject Pending Customer", "companyId=7,", "rejectionReason=Missing documents")

	_, records, err := d.Dispatch(context.Background(), line, "1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Dispatch() returned %d records, want 2", len(records))
	}
	if records[0].Label != LabelCompanyName || records[0].Value != "Acme Corp" {
		t.Errorf("records[0] = %+v, want company name Acme Corp", records[0])
	}
	if records[1].Label != LabelRejectReason || records[1].Value != "Missing documents" {
		t.Errorf("records[1] = %+v, want reject reason", records[1])
	}
}

func TestDispatch_DeactivateUserExpandsCompanies(t *testing.T) {
	lookup := &fakeLookup{users: map[string]fakeUser{
		"99": {name: "Jane Doe", companies: []string{"Acme Corp", "Beta LLC"}},
	}}
	d := NewDispatcher(lookup)
	line := auditLine("Deactivate User", "userId=99")

	_, records, err := d.Dispatch(context.Background(), line, "5")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Dispatch() returned %d records, want 3", len(records))
	}

	wantValues := []string{"Jane Doe", "Acme Corp", "Beta LLC"}
	wantLabels := []Label{LabelUserName, LabelCompanyName, LabelCompanyName}
	for i, r := range records {
		if r.ActionID != "5" {
			t.Errorf("records[%d].ActionID = %q, want 5", i, r.ActionID)
		}
		if r.Value != wantValues[i] {
			t.Errorf("records[%d].Value = %q, want %q", i, r.Value, wantValues[i])
		}
		if r.Label != wantLabels[i] {
			t.Errorf("records[%d].Label = %q, want %q", i, r.Label, wantLabels[i])
		}
		if r.Title != TitleManagement {
			t.Errorf("records[%d].Title = %q, want %q", i, r.Title, TitleManagement)
		}
	}
}

func TestDispatch_ResetCustomerPasswordWithoutCompanies(t *testing.T) {
	lookup := &fakeLookup{users: map[string]fakeUser{"12": {name: "Sam Smith"}}}
	d := NewDispatcher(lookup)

	_, records, err := d.Dispatch(context.Background(), auditLine("Reset Customer Password", "userId=12"), "1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Dispatch() returned %d records, want 1", len(records))
	}
	if records[0].Label != LabelUserName || records[0].Value != "Sam Smith" {
		t.Errorf("record = %+v, want user name Sam Smith", records[0])
	}
}

func TestDispatch_ResetCustomerPasswordCompanyTitle(t *testing.T) {
	lookup := &fakeLookup{users: map[string]fakeUser{"12": {name: "Sam Smith", companies: []string{"Acme Corp"}}}}
	d := NewDispatcher(lookup)

	_, records, err := d.Dispatch(context.Background(), auditLine("Reset Customer Password", "userId=12"), "1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Dispatch() returned %d records, want 2", len(records))
	}
	if records[0].Title != TitleManagement {
		t.Errorf("user record title = %q, want %q", records[0].Title, TitleManagement)
	}
	if records[1].Title != TitleAuthorizer {
		t.Errorf("company record title = %q, want %q", records[1].Title, TitleAuthorizer)
	}
}

func TestDispatch_UnknownReferenceIDResolvesEmpty(t *testing.T) {
	d := NewDispatcher(&fakeLookup{companies: map[string]string{"1": "Known Co"}})

	_, records, err := d.Dispatch(context.Background(), auditLine("Reject Pending Account", "companyId=404"), "1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Dispatch() returned %d records, want 1", len(records))
	}
	if records[0].Value != "" {
		t.Errorf("Value = %q, want empty string", records[0].Value)
	}
}

func TestDispatch_MissingTokensResolveEmpty(t *testing.T) {
	d := NewDispatcher(nil)
	line := "2024-03-01 module=lib/auditLog.js message=Approve Hybrid Transaction"

	_, records, err := d.Dispatch(context.Background(), line, "1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Dispatch() returned %d records, want 3", len(records))
	}
	for i, r := range records {
		if r.User != "" || r.Value != "" {
			t.Errorf("records[%d] = %+v, want empty user and value", i, r)
		}
	}
}

func TestDispatch_LookupErrorIsReturned(t *testing.T) {
	errDB := errors.New("connection refused")
	d := NewDispatcher(&fakeLookup{err: errDB})

	_, _, err := d.Dispatch(context.Background(), auditLine("Approve Pending Account", "companyId=1"), "1")
	if !errors.Is(err, errDB) {
		t.Fatalf("Dispatch() error = %v, want %v", err, errDB)
	}
}

func TestDispatch_FirstMatchWins(t *testing.T) {
	lookup := &fakeLookup{}
	d := NewDispatcher(lookup)
	// Carries two action labels; Approve Pending Customer has higher priority
	// and needs no lookup, so the lookup must never be called.
	line := auditLine("Approve Pending Customer", "customerName=Acme,", "note=Deactivate User", "userId=1")

	v, ok := d.Match(line)
	if !ok || v.Kind != ApprovePendingCustomer {
		t.Fatalf("Match() = %v, %v, want %v", v.Kind, ok, ApprovePendingCustomer)
	}
	kind, records, err := d.Dispatch(context.Background(), line, "1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if kind != ApprovePendingCustomer {
		t.Errorf("Dispatch() kind = %v, want %v", kind, ApprovePendingCustomer)
	}
	if len(records) != 1 || records[0].Action != "Approve Pending Customer" {
		t.Errorf("Dispatch() = %+v, want single Approve Pending Customer record", records)
	}
	if lookup.calls != 0 {
		t.Errorf("lookup called %d times, want 0", lookup.calls)
	}
}
