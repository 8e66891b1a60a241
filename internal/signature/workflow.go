// Package signature implements the two-party counter-signature state machine
// for ledger entries.
package signature

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/loanbook/internal/loan"
)

// Action is a signature workflow transition.
type Action string

const (
	ActionRequest Action = "request"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction validates an action name.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionRequest, ActionApprove, ActionReject:
		return a, nil
	}
	return "", &loan.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown signature action %q", raw)}
}

// Authorize checks that actor is a party to the book and the book accepts changes.
func Authorize(book loan.Book, actor string) error {
	if !book.IsParty(actor) {
		return &loan.AuthorizationError{Actor: actor, Reason: "not a party to this book"}
	}
	if book.IsClosed() {
		return &loan.StateError{Reason: fmt.Sprintf("book %s is closed", book.ID)}
	}
	return nil
}

// Apply runs action on e for actor at now.
func Apply(e *loan.Entry, action Action, actor string, now time.Time) error {
	switch action {
	case ActionRequest:
		return Request(e, actor)
	case ActionApprove:
		return Approve(e, actor, now)
	case ActionReject:
		return Reject(e, actor, now)
	}
	return &loan.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown signature action %q", action)}
}

// Request moves a persisted entry from none or rejected to requested.
func Request(e *loan.Entry, actor string) error {
	if !e.Persisted() {
		return &loan.StateError{Reason: fmt.Sprintf("entry %d has not been saved", e.SerialNumber)}
	}
	switch e.SignatureStatus {
	case loan.SignatureNone, loan.SignatureRejected:
	case loan.SignatureRequested:
		return &loan.StateError{Reason: fmt.Sprintf("entry %d already has a pending request", e.SerialNumber)}
	case loan.SignatureApproved:
		return &loan.StateError{Reason: fmt.Sprintf("entry %d is already approved", e.SerialNumber)}
	default:
		return unknownStatus(e)
	}
	e.SignatureStatus = loan.SignatureRequested
	e.RequestedBy = actor
	e.SignedBy = ""
	e.SignedAt = nil
	return nil
}

// Approve countersigns a pending request. The requester cannot approve.
func Approve(e *loan.Entry, actor string, now time.Time) error {
	if err := decide(e, actor, "approve"); err != nil {
		return err
	}
	signed := now.UTC()
	e.SignatureStatus = loan.SignatureApproved
	e.SignedBy = actor
	e.SignedAt = &signed
	return nil
}

// Reject declines a pending request. The requester cannot reject.
func Reject(e *loan.Entry, actor string, now time.Time) error {
	if err := decide(e, actor, "reject"); err != nil {
		return err
	}
	signed := now.UTC()
	e.SignatureStatus = loan.SignatureRejected
	e.SignedBy = actor
	e.SignedAt = &signed
	return nil
}

func decide(e *loan.Entry, actor, verb string) error {
	if !e.Persisted() {
		return &loan.StateError{Reason: fmt.Sprintf("entry %d has not been saved", e.SerialNumber)}
	}
	switch e.SignatureStatus {
	case loan.SignatureRequested:
	case loan.SignatureNone, loan.SignatureApproved, loan.SignatureRejected:
		return &loan.StateError{Reason: fmt.Sprintf("cannot %s entry %d in state %s", verb, e.SerialNumber, e.SignatureStatus)}
	default:
		return unknownStatus(e)
	}
	if actor == e.RequestedBy {
		return &loan.AuthorizationError{Actor: actor, Reason: fmt.Sprintf("cannot %s own signature request", verb)}
	}
	return nil
}

// ClearOnEdit is the only way an approved entry changes: its signature is
// dropped and the status returns to none.
func ClearOnEdit(e *loan.Entry) {
	e.ClearSignature()
}

// CheckEdit validates a stored entry (prev, nil when new) against an incoming
// version. Signature fields may only stay as they are or be cleared from an
// approved entry, and an approved entry's amount or date cannot change
// without that clearing.
func CheckEdit(prev *loan.Entry, next loan.Entry) error {
	if prev == nil {
		if next.SignatureStatus != loan.SignatureNone || next.RequestedBy != "" || next.SignedBy != "" || next.SignedAt != nil {
			return &loan.StateError{Reason: fmt.Sprintf("entry %d: new entries start unsigned", next.SerialNumber)}
		}
		return nil
	}
	if sameSignature(*prev, next) {
		if prev.SignatureStatus == loan.SignatureApproved && attestedChanged(*prev, next) {
			return &loan.StateError{Reason: fmt.Sprintf("entry %d is approved; editing it must clear the signature", next.SerialNumber)}
		}
		return nil
	}
	if prev.SignatureStatus == loan.SignatureApproved && cleared(next) {
		return nil
	}
	return &loan.StateError{Reason: fmt.Sprintf("entry %d: signature fields change only through the signature workflow", next.SerialNumber)}
}

func sameSignature(a, b loan.Entry) bool {
	if a.SignatureStatus != b.SignatureStatus || a.RequestedBy != b.RequestedBy || a.SignedBy != b.SignedBy {
		return false
	}
	switch {
	case a.SignedAt == nil && b.SignedAt == nil:
		return true
	case a.SignedAt == nil || b.SignedAt == nil:
		return false
	}
	return a.SignedAt.Equal(*b.SignedAt)
}

func attestedChanged(a, b loan.Entry) bool {
	if !a.Date.Equal(b.Date) {
		return true
	}
	if a.Amount.Valid != b.Amount.Valid {
		return true
	}
	return a.Amount.Valid && !a.Amount.Decimal.Equal(b.Amount.Decimal)
}

func cleared(e loan.Entry) bool {
	return e.SignatureStatus == loan.SignatureNone && e.RequestedBy == "" && e.SignedBy == "" && e.SignedAt == nil
}

func unknownStatus(e *loan.Entry) error {
	return &loan.StateError{Reason: fmt.Sprintf("entry %d has unknown signature status %d", e.SerialNumber, uint8(e.SignatureStatus))}
}
