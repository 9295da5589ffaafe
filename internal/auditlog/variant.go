package auditlog

import (
	"context"
	"strings"
)

// Signature is present in every line written by the admin audit logger.
const Signature = "module=lib/auditLog.js"

// Token keys read from audit lines.
const (
	keyAdmin        = "adminFullName"
	keyCustomerName = "customerName"
	keyCompanyID    = "companyId"
	keyCompanyName  = "companyName"
	keyRejection    = "rejectionReason"
	keyAccountType  = "accountType"
	keyAuthorizer   = "authorizerFullname"
	keyUserID       = "userId"
	keyAmount       = "amount"
	keyT24ID        = "t24TransactionId"
	keyWireStatus   = "wireStatus"
	keyFirmName     = "firmName"
)

// Lookup resolves opaque ids found in audit lines to display names.
type Lookup interface {
	// CompanyName returns the company name for id, or "" when unknown.
	CompanyName(ctx context.Context, companyID string) (string, error)
	// UserDetails returns the user name and the user's companies, or
	// "" and nil when unknown.
	UserDetails(ctx context.Context, userID string) (string, []string, error)
}

// NoLookup resolves every id to an empty value.
type NoLookup struct{}

func (NoLookup) CompanyName(context.Context, string) (string, error) { return "", nil }

func (NoLookup) UserDetails(context.Context, string) (string, []string, error) {
	return "", nil, nil
}

// Kind identifies one recognized admin action.
type Kind int

// Recognized admin actions.
const (
	ApprovePendingCustomer Kind = iota
	RejectPendingCustomer
	ApprovePendingAccount
	RejectPendingAccount
	ApprovePendingAuthorizer
	RejectPendingAuthorizer
	ResetCustomerPassword
	ApproveOFACFlaggedTransaction
	RejectOFACFlaggedTransaction
	ApproveHybridTransaction
	RejectHybridTransaction
	ChangeWireWindow
	DeactivateUser
	AddNewEntity
	numKinds
)

// Unrecognized is the Kind reported for lines no variant matches.
const Unrecognized Kind = -1

var kindNames = [numKinds]string{
	ApprovePendingCustomer:        "approve_pending_customer",
	RejectPendingCustomer:         "reject_pending_customer",
	ApprovePendingAccount:         "approve_pending_account",
	RejectPendingAccount:          "reject_pending_account",
	ApprovePendingAuthorizer:      "approve_pending_authorizer",
	RejectPendingAuthorizer:       "reject_pending_authorizer",
	ResetCustomerPassword:         "reset_customer_password",
	ApproveOFACFlaggedTransaction: "approve_ofac_flagged_transaction",
	RejectOFACFlaggedTransaction:  "reject_ofac_flagged_transaction",
	ApproveHybridTransaction:      "approve_hybrid_transaction",
	RejectHybridTransaction:       "reject_hybrid_transaction",
	ChangeWireWindow:              "change_wire_window",
	DeactivateUser:                "deactivate_user",
	AddNewEntity:                  "add_new_entity",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// priority is the order in which variants are tried against a line.
// The first match wins, so this order is part of the report format.
var priority = [numKinds]Kind{
	ApprovePendingCustomer,
	RejectPendingCustomer,
	ApprovePendingAccount,
	RejectPendingAccount,
	ApprovePendingAuthorizer,
	RejectPendingAuthorizer,
	ResetCustomerPassword,
	ApproveOFACFlaggedTransaction,
	RejectOFACFlaggedTransaction,
	ApproveHybridTransaction,
	RejectHybridTransaction,
	ChangeWireWindow,
	DeactivateUser,
	AddNewEntity,
}

// Variant describes how one admin action is recognized and reported.
type Variant struct {
	Kind    Kind
	Action  string
	Section Section
	Title   Title

	build func(ctx context.Context, b *builder) error
}

var variants = [numKinds]Variant{
	ApprovePendingCustomer: {
		Action: "Approve Pending Customer", Section: SectionCustomer, Title: TitleCustomer,
		build: func(_ context.Context, b *builder) error {
			b.token(LabelCompanyName, keyCustomerName)
			return nil
		},
	},
	RejectPendingCustomer: {
		Action: "Reject Pending Customer", Section: SectionCustomer, Title: TitleCustomer,
		build: func(ctx context.Context, b *builder) error {
			if err := b.company(ctx); err != nil {
				return err
			}
			b.token(LabelRejectReason, keyRejection)
			return nil
		},
	},
	ApprovePendingAccount: {
		Action: "Approve Pending Account", Section: SectionCustomer, Title: TitleAccount,
		build: func(ctx context.Context, b *builder) error {
			if err := b.company(ctx); err != nil {
				return err
			}
			b.token(LabelAccountType, keyAccountType)
			return nil
		},
	},
	RejectPendingAccount: {
		Action: "Reject Pending Account", Section: SectionCustomer, Title: TitleAccount,
		build: func(ctx context.Context, b *builder) error {
			return b.company(ctx)
		},
	},
	ApprovePendingAuthorizer: {
		Action: "Approve Pending Authorizer", Section: SectionUser, Title: TitleAuthorizer,
		build: buildAuthorizer,
	},
	RejectPendingAuthorizer: {
		Action: "Reject Pending Authorizer", Section: SectionUser, Title: TitleAuthorizer,
		build: buildAuthorizer,
	},
	ResetCustomerPassword: {
		Action: "Reset Customer Password", Section: SectionUser, Title: TitleManagement,
		build: func(ctx context.Context, b *builder) error {
			// Company rows of a password reset have always been captioned
			// with the pending authorizer page.
			return b.user(ctx, TitleAuthorizer)
		},
	},
	ApproveOFACFlaggedTransaction: {
		Action: "Approve OFAC Flagged Transaction", Section: SectionTransactions, Title: TitleWire,
		build: func(_ context.Context, b *builder) error {
			b.token(LabelTxnAmount, keyAmount)
			b.token(LabelCompanyName, keyCompanyName)
			return nil
		},
	},
	RejectOFACFlaggedTransaction: {
		Action: "Reject OFAC Flagged Transaction", Section: SectionTransactions, Title: TitleWire,
		build: buildRejectTransaction,
	},
	ApproveHybridTransaction: {
		Action: "Approve Hybrid Transaction", Section: SectionTransactions, Title: TitleHybrid,
		build: func(_ context.Context, b *builder) error {
			b.token(LabelTxnAmount, keyAmount)
			b.token(LabelT24TxnID, keyT24ID)
			b.token(LabelCompanyName, keyCompanyName)
			return nil
		},
	},
	RejectHybridTransaction: {
		Action: "Reject Hybrid Transaction", Section: SectionTransactions, Title: TitleHybrid,
		build: buildRejectTransaction,
	},
	ChangeWireWindow: {
		Action: "Change Wire Window", Section: SectionWireWindow, Title: TitleWindow,
		build: func(_ context.Context, b *builder) error {
			b.token(LabelWireStatus, keyWireStatus)
			return nil
		},
	},
	DeactivateUser: {
		Action: "Deactivate User", Section: SectionUser, Title: TitleManagement,
		build: func(ctx context.Context, b *builder) error {
			return b.user(ctx, TitleManagement)
		},
	},
	AddNewEntity: {
		Action: "Add new entity to firm", Section: SectionCustomer, Title: TitleEntity,
		build: func(_ context.Context, b *builder) error {
			b.token(LabelCompanyName, keyCompanyName)
			b.token(LabelFirmName, keyFirmName)
			return nil
		},
	},
}

func init() {
	for k := range variants {
		variants[k].Kind = Kind(k)
	}
}

func buildAuthorizer(ctx context.Context, b *builder) error {
	b.token(LabelAuthorizer, keyAuthorizer)
	return b.company(ctx)
}

func buildRejectTransaction(ctx context.Context, b *builder) error {
	b.token(LabelTxnAmount, keyAmount)
	return b.company(ctx)
}

// Variants returns the recognized actions in match priority order.
func Variants() []Variant {
	out := make([]Variant, 0, numKinds)
	for _, k := range priority {
		out = append(out, variants[k])
	}
	return out
}

// Matches reports whether line was written by the audit logger for this action.
func (v Variant) Matches(line string) bool {
	return strings.Contains(line, Signature) && strings.Contains(line, v.Action)
}

// Build tokenizes line and returns the records for this action.
// Missing tokens produce empty values; only lookup failures are returned.
func (v Variant) Build(ctx context.Context, line, actionID string, lookup Lookup) ([]Record, error) {
	if lookup == nil {
		lookup = NoLookup{}
	}
	tokens := Tokenize(line)
	b := &builder{
		variant: v,
		tokens:  tokens,
		lookup:  lookup,
		base: Record{
			ActionID:  actionID,
			Timestamp: tokens.Get(TimestampKey),
			User:      tokens.Get(keyAdmin),
			Action:    v.Action,
			Section:   v.Section,
		},
	}
	if err := v.build(ctx, b); err != nil {
		return nil, err
	}
	return b.records, nil
}

// builder accumulates the records of one recognized line.
type builder struct {
	variant Variant
	tokens  Tokens
	lookup  Lookup
	base    Record
	records []Record
}

func (b *builder) add(title Title, label Label, value string) {
	r := b.base
	r.Title = title
	r.Label = label
	r.Value = value
	b.records = append(b.records, r)
}

// token emits a record whose value is read straight from the line.
func (b *builder) token(label Label, key string) {
	b.add(b.variant.Title, label, b.tokens.Get(key))
}

// company emits a company name record resolved from the companyId token.
func (b *builder) company(ctx context.Context) error {
	name, err := b.lookup.CompanyName(ctx, b.tokens.Get(keyCompanyID))
	if err != nil {
		return err
	}
	b.add(b.variant.Title, LabelCompanyName, name)
	return nil
}

// user emits the user name resolved from the userId token followed by one
// company record per company the user belongs to.
func (b *builder) user(ctx context.Context, companyTitle Title) error {
	name, companies, err := b.lookup.UserDetails(ctx, b.tokens.Get(keyUserID))
	if err != nil {
		return err
	}
	b.add(b.variant.Title, LabelUserName, name)
	for _, c := range companies {
		b.add(companyTitle, LabelCompanyName, c)
	}
	return nil
}
