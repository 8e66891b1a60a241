package signature

import "github.com/odyssey-erp/loanbook/internal/loan"

// Label keys rendered by the UI for the signature button.
const (
	LabelRequest       = "requestSignature"
	LabelRequestAgain  = "reRequestSignature"
	LabelPending       = "pendingApproval"
	LabelApproveReject = "approveReject"
	LabelApproved      = "approved"
)

// Guard outcomes explaining a disabled button.
const (
	GuardNone       = ""
	GuardNotSaved   = "not_saved"
	GuardOffline    = "offline"
	GuardOwnRequest = "own_request"
	GuardApproved   = "approved"
	GuardNotParty   = "not_party"
	GuardClosed     = "book_closed"
)

// Button is the signature control state for one entry and viewer.
type Button struct {
	Label   string   `json:"label"`
	Actions []Action `json:"actions,omitempty"`
	Enabled bool     `json:"enabled"`
	Guard   string   `json:"guard,omitempty"`
}

// ButtonFor derives the control shown to actor for e.
func ButtonFor(book loan.Book, e loan.Entry, actor string, online bool) Button {
	b := baseButton(e, actor)
	if !b.Enabled {
		return b
	}
	switch {
	case !book.IsParty(actor):
		return disable(b, GuardNotParty)
	case book.IsClosed():
		return disable(b, GuardClosed)
	case !online:
		return disable(b, GuardOffline)
	}
	return b
}

func baseButton(e loan.Entry, actor string) Button {
	switch e.SignatureStatus {
	case loan.SignatureApproved:
		return Button{Label: LabelApproved, Guard: GuardApproved}
	case loan.SignatureRequested:
		if actor == e.RequestedBy {
			return Button{Label: LabelPending, Guard: GuardOwnRequest}
		}
		return Button{Label: LabelApproveReject, Actions: []Action{ActionApprove, ActionReject}, Enabled: true}
	case loan.SignatureRejected:
		if !e.Persisted() {
			return Button{Label: LabelRequestAgain, Guard: GuardNotSaved}
		}
		return Button{Label: LabelRequestAgain, Actions: []Action{ActionRequest}, Enabled: true}
	default:
		if !e.Persisted() {
			return Button{Label: LabelRequest, Guard: GuardNotSaved}
		}
		return Button{Label: LabelRequest, Actions: []Action{ActionRequest}, Enabled: true}
	}
}

func disable(b Button, guard string) Button {
	b.Enabled = false
	b.Guard = guard
	return b
}
