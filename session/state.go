package session

import (
	"fmt"

	"channel-sub-bot/model"

	"github.com/shopspring/decimal"
)

// State names the step a user is at. The set is closed; stateCount must stay last.
type State int

const (
	Idle State = iota
	AwaitingProofImage
	AwaitingWithdrawMethod
	AwaitingDestination
	AwaitingConfirmation
	AwaitingSupportText
	AwaitingBroadcastText
	AwaitingTargetID
	AwaitingTargetText
	AwaitingSettingValue
	AwaitingMethodName
	AwaitingMethodDestination
	AwaitingMethodConfirmation
	AwaitingApprovalReference
	AwaitingPayoutReference
	AwaitingInviteLinks

	stateCount
)

var stateNames = [stateCount]string{
	Idle:                       "idle",
	AwaitingProofImage:         "awaiting_proof_image",
	AwaitingWithdrawMethod:     "awaiting_withdraw_method",
	AwaitingDestination:        "awaiting_destination",
	AwaitingConfirmation:       "awaiting_confirmation",
	AwaitingSupportText:        "awaiting_support_text",
	AwaitingBroadcastText:      "awaiting_broadcast_text",
	AwaitingTargetID:           "awaiting_target_id",
	AwaitingTargetText:         "awaiting_target_text",
	AwaitingSettingValue:       "awaiting_setting_value",
	AwaitingMethodName:         "awaiting_method_name",
	AwaitingMethodDestination:  "awaiting_method_destination",
	AwaitingMethodConfirmation: "awaiting_method_confirmation",
	AwaitingApprovalReference:  "awaiting_approval_reference",
	AwaitingPayoutReference:    "awaiting_payout_reference",
	AwaitingInviteLinks:        "awaiting_invite_links",
}

func (s State) String() string {
	if s < 0 || s >= stateCount {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// States returns every state, Idle first.
func States() []State {
	out := make([]State, stateCount)
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// Step is the state a user is in together with the data collected so far.
// Each concrete type below belongs to exactly one State.
type Step interface {
	State() State
}

// ProofImage waits for the receipt photo of a payment to MethodID.
type ProofImage struct {
	MethodID uint
}

// WithdrawMethod waits for the user to pick a payout channel for Amount.
type WithdrawMethod struct {
	Amount decimal.Decimal
}

type Destination struct {
	Method model.WithdrawalMethod
	Amount decimal.Decimal
}

type Confirmation struct {
	Method      model.WithdrawalMethod
	Amount      decimal.Decimal
	Destination string
}

// Edit goes back to destination entry, keeping method and amount.
func (c Confirmation) Edit() Destination {
	return Destination{Method: c.Method, Amount: c.Amount}
}

type (
	SupportText   struct{}
	BroadcastText struct{}
	TargetID      struct{}
	InviteLinks   struct{}
)

type TargetText struct {
	TargetID int64
}

type SettingValue struct {
	Key string
}

// MethodName starts a payment method add (MethodID 0) or edit.
type MethodName struct {
	MethodID uint
}

type MethodDestination struct {
	MethodID uint
	Name     string
}

type MethodConfirmation struct {
	MethodID    uint
	Name        string
	Destination string
}

type ApprovalReference struct {
	PaymentID uint
}

type PayoutReference struct {
	WithdrawalID uint
}

func (ProofImage) State() State         { return AwaitingProofImage }
func (WithdrawMethod) State() State     { return AwaitingWithdrawMethod }
func (Destination) State() State        { return AwaitingDestination }
func (Confirmation) State() State       { return AwaitingConfirmation }
func (SupportText) State() State        { return AwaitingSupportText }
func (BroadcastText) State() State      { return AwaitingBroadcastText }
func (TargetID) State() State           { return AwaitingTargetID }
func (TargetText) State() State         { return AwaitingTargetText }
func (SettingValue) State() State       { return AwaitingSettingValue }
func (MethodName) State() State         { return AwaitingMethodName }
func (MethodDestination) State() State  { return AwaitingMethodDestination }
func (MethodConfirmation) State() State { return AwaitingMethodConfirmation }
func (ApprovalReference) State() State  { return AwaitingApprovalReference }
func (PayoutReference) State() State    { return AwaitingPayoutReference }
func (InviteLinks) State() State        { return AwaitingInviteLinks }
