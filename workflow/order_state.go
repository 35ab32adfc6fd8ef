// Package workflow holds the order lifecycle: the states an order can be in,
// the triggers that move it, and the side effects attached to each transition.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a lifecycle state of an order
type Status string

const (
	StatusPending          Status = "pending"
	StatusApproved         Status = "approved"
	StatusInProgress       Status = "in_progress"
	StatusReadyForDelivery Status = "ready_for_delivery"
	StatusInLogistics      Status = "in_logistics"
	StatusCompleted        Status = "completed"
	StatusRejected         Status = "rejected"
	StatusCancelled        Status = "cancelled"
)

// Trigger is an action that moves an order between states
type Trigger string

const (
	TriggerApprove         Trigger = "approve"
	TriggerReject          Trigger = "reject"
	TriggerCancel          Trigger = "cancel"
	TriggerStartProduction Trigger = "start_production"
	TriggerMarkReady       Trigger = "mark_ready"
	TriggerDispatch        Trigger = "dispatch"
	TriggerComplete        Trigger = "complete"
)

// Handler is the team currently responsible for an order
type Handler string

const (
	HandlerProduction Handler = "production"
	HandlerLogistics  Handler = "logistics"
)

// Notification templates attached to transitions
const (
	NotifyApproved   = "order_approved"
	NotifyDeclined   = "order_declined"
	NotifyCancelled  = "order_cancelled"
	NotifyDispatched = "order_dispatched"
	NotifyCompleted  = "order_completed"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrUnknownTrigger    = errors.New("unknown trigger")
)

// Effect describes what happens alongside a transition
type Effect struct {
	// Handoff moves the order to the logistics team and stamps handoffAt
	Handoff bool
	// Notify names the customer email template to send, empty for none
	Notify string
}

type edge struct {
	from    Status
	trigger Trigger
}

var transitions = map[edge]Status{
	{StatusPending, TriggerApprove}: StatusApproved,
	{StatusPending, TriggerReject}:  StatusRejected,
	{StatusPending, TriggerCancel}:  StatusCancelled,

	{StatusApproved, TriggerStartProduction}: StatusInProgress,
	{StatusApproved, TriggerReject}:          StatusRejected,
	{StatusApproved, TriggerCancel}:          StatusCancelled,

	{StatusInProgress, TriggerMarkReady}: StatusReadyForDelivery,
	{StatusInProgress, TriggerCancel}:    StatusCancelled,

	{StatusReadyForDelivery, TriggerDispatch}: StatusInLogistics,
	{StatusReadyForDelivery, TriggerComplete}: StatusCompleted,

	{StatusInLogistics, TriggerComplete}: StatusCompleted,
}

var effects = map[Trigger]Effect{
	TriggerApprove:   {Notify: NotifyApproved},
	TriggerReject:    {Notify: NotifyDeclined},
	TriggerCancel:    {Notify: NotifyCancelled},
	TriggerMarkReady: {Handoff: true},
	TriggerDispatch:  {Notify: NotifyDispatched},
	TriggerComplete:  {Notify: NotifyCompleted},
}

// legacy spellings still sent by older admin screens
var statusAliases = map[string]Status{
	"in-progress": StatusInProgress,
	"ready":       StatusReadyForDelivery,
	"confirmed":   StatusApproved,
}

var allStatuses = []Status{
	StatusPending,
	StatusApproved,
	StatusInProgress,
	StatusReadyForDelivery,
	StatusInLogistics,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

var allTriggers = []Trigger{
	TriggerApprove,
	TriggerReject,
	TriggerCancel,
	TriggerStartProduction,
	TriggerMarkReady,
	TriggerDispatch,
	TriggerComplete,
}

// Normalize parses a status string, accepting legacy aliases
func Normalize(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := statusAliases[s]; ok {
		return alias, nil
	}
	for _, status := range allStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// ParseTrigger parses a trigger string
func ParseTrigger(s string) (Trigger, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, trigger := range allTriggers {
		if string(trigger) == s {
			return trigger, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

// Transition returns the state reached by firing trigger from state from
func Transition(from Status, trigger Trigger) (Status, error) {
	to, ok := transitions[edge{from, trigger}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s an order that is %s", ErrInvalidTransition, trigger, from)
	}
	return to, nil
}

// TriggerFor resolves the trigger that moves an order from one state to another
func TriggerFor(from, to Status) (Trigger, error) {
	for _, trigger := range allTriggers {
		if target, ok := transitions[edge{from, trigger}]; ok && target == to {
			return trigger, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Effects returns the side effects attached to a trigger
func Effects(trigger Trigger) Effect {
	return effects[trigger]
}

// AllowedTriggers lists the triggers that can fire from a state
func AllowedTriggers(from Status) []Trigger {
	var allowed []Trigger
	for _, trigger := range allTriggers {
		if _, ok := transitions[edge{from, trigger}]; ok {
			allowed = append(allowed, trigger)
		}
	}
	return allowed
}

// IsTerminal reports whether no trigger can fire from a state
func IsTerminal(s Status) bool {
	return len(AllowedTriggers(s)) == 0
}
