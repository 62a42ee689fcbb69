// Package types defines the core data structures for the c2d operation server.
package types

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ErrValidation is wrapped by every validation failure so callers can
// classify it as a client error.
var ErrValidation = errors.New("validation failed")

// Operation is a unit of work targeted at one agent.
//
// Dependencies is a set of operation ids that must reach DONE before this
// operation may be dispatched. It is kept sorted and free of duplicates and is
// never changed after creation.
type Operation struct {
	ID            string            `json:"id"`
	Operation     OperationType     `json:"operation"`
	Operand       string            `json:"operand,omitempty"`
	Args          map[string]string `json:"args,omitempty"`
	Dependencies  []string          `json:"dependencies,omitempty"`
	TargetAgentID string            `json:"targetAgentId"`
	State         OperationState    `json:"state"`
	CreatedBy     string            `json:"createdBy,omitempty"`
	Created       int64             `json:"created"` // epoch milliseconds
	Updated       int64             `json:"updated"` // epoch milliseconds
}

// Clone returns a deep copy so stores never hand out shared maps or slices.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Args != nil {
		c.Args = maps.Clone(o.Args)
	}
	if o.Dependencies != nil {
		c.Dependencies = slices.Clone(o.Dependencies)
	}
	return &c
}

// DependsOn reports whether id is a direct dependency of o.
func (o *Operation) DependsOn(id string) bool {
	_, found := slices.BinarySearch(o.Dependencies, id)
	return found
}

// CreatedTime returns the creation timestamp as a time.Time.
func (o *Operation) CreatedTime() time.Time {
	return time.UnixMilli(o.Created).UTC()
}

// Summary is the human readable one-liner used in audit events.
func (o *Operation) Summary() string {
	var b strings.Builder
	b.WriteString(string(o.Operation))
	if o.Operand != "" {
		b.WriteString(" ")
		b.WriteString(o.Operand)
	}
	fmt.Fprintf(&b, " [%s] for agent %s", o.ID, o.TargetAgentID)
	return b.String()
}

// Normalize trims identifiers and canonicalizes the dependency set.
func (o *Operation) Normalize() {
	o.TargetAgentID = strings.TrimSpace(o.TargetAgentID)
	o.Operand = strings.TrimSpace(o.Operand)
	o.Operation = OperationType(strings.ToUpper(strings.TrimSpace(string(o.Operation))))
	o.Dependencies = NormalizeIDs(o.Dependencies)
}

// Validate checks the fields the engine relies on. Dependency existence is a
// storage concern and is checked by the service inside its transaction.
func (o *Operation) Validate() error {
	if o.TargetAgentID == "" {
		return fmt.Errorf("%w: targetAgentId is required", ErrValidation)
	}
	if o.Operation == "" {
		return fmt.Errorf("%w: operation is required", ErrValidation)
	}
	if !o.Operation.IsValid() {
		return fmt.Errorf("%w: invalid operation type: %s", ErrValidation, o.Operation)
	}
	if !o.State.IsValid() {
		return fmt.Errorf("%w: invalid state: %q", ErrValidation, o.State)
	}
	for _, dep := range o.Dependencies {
		if dep == "" {
			return fmt.Errorf("%w: empty dependency id", ErrValidation)
		}
		if o.ID != "" && dep == o.ID {
			return fmt.Errorf("%w: operation %s cannot depend on itself", ErrValidation, o.ID)
		}
	}
	for k := range o.Args {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty argument name", ErrValidation)
		}
	}
	return nil
}

// ToC2Operation maps the operation to its wire representation. deps replaces
// the dependency set; pass o.Dependencies to send it unchanged.
func (o *Operation) ToC2Operation(deps []string) C2Operation {
	c := C2Operation{
		Identifier:   o.ID,
		Operation:    o.Operation,
		Operand:      o.Operand,
		Dependencies: slices.Clone(deps),
	}
	if len(o.Args) > 0 {
		c.Args = maps.Clone(o.Args)
	}
	if c.Dependencies == nil {
		c.Dependencies = []string{}
	}
	return c
}

// C2Operation is the subset of an operation sent to an agent in a heartbeat
// response.
type C2Operation struct {
	Identifier   string            `json:"id"`
	Operation    OperationType     `json:"operation"`
	Operand      string            `json:"operand,omitempty"`
	Args         map[string]string `json:"args,omitempty"`
	Dependencies []string          `json:"dependencies"`
}

// NormalizeIDs trims, drops blanks, sorts and dedupes a list of ids.
func NormalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// OperationType is the command an agent is asked to perform. It is opaque to
// the scheduling engine.
type OperationType string

// Operation type constants
const (
	OpDescribe    OperationType = "DESCRIBE"
	OpUpdate      OperationType = "UPDATE"
	OpClear       OperationType = "CLEAR"
	OpStart       OperationType = "START"
	OpStop        OperationType = "STOP"
	OpRestart     OperationType = "RESTART"
	OpTransfer    OperationType = "TRANSFER"
	OpSync        OperationType = "SYNC"
	OpAcknowledge OperationType = "ACKNOWLEDGE"
)

// IsValid checks if the operation type is one the agents understand.
func (t OperationType) IsValid() bool {
	switch t {
	case OpDescribe, OpUpdate, OpClear, OpStart, OpStop, OpRestart, OpTransfer, OpSync, OpAcknowledge:
		return true
	}
	return false
}

// OperationState is the lifecycle state of an operation.
type OperationState string

// Operation state constants
const (
	StateNew       OperationState = "NEW"
	StateReady     OperationState = "READY"
	StateQueued    OperationState = "QUEUED"
	StateDone      OperationState = "DONE"
	StateFailed    OperationState = "FAILED"
	StateCancelled OperationState = "CANCELLED"
)

// AllStates lists every state in lifecycle order.
func AllStates() []OperationState {
	return []OperationState{StateNew, StateReady, StateQueued, StateDone, StateFailed, StateCancelled}
}

// ParseOperationState parses a case-insensitive state name.
func ParseOperationState(s string) (OperationState, error) {
	state := OperationState(strings.ToUpper(strings.TrimSpace(s)))
	if state == "" {
		return "", fmt.Errorf("%w: state is required", ErrValidation)
	}
	if !state.IsValid() {
		return "", fmt.Errorf("%w: invalid state: %q", ErrValidation, s)
	}
	return state, nil
}

// IsValid checks if the state value is known.
func (s OperationState) IsValid() bool {
	switch s {
	case StateNew, StateReady, StateQueued, StateDone, StateFailed, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is defined out of s.
func (s OperationState) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// CascadesCancellation reports whether entering s cancels every transitive
// dependent.
func (s OperationState) CascadesCancellation() bool {
	return s == StateFailed || s == StateCancelled
}

// transitions is the authoritative state machine. Terminal states have no
// outgoing edges.
var transitions = map[OperationState][]OperationState{
	StateNew:    {StateReady, StateQueued, StateCancelled, StateFailed},
	StateReady:  {StateQueued, StateCancelled, StateFailed},
	StateQueued: {StateDone, StateFailed, StateCancelled},
}

// CanTransition reports whether from -> to is a legal administrative or
// acknowledgement transition.
func CanTransition(from, to OperationState) bool {
	return slices.Contains(transitions[from], to)
}

// Severity is the level of an audit event.
type Severity string

// Severity constants
const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// EventType categorizes audit trail events.
type EventType string

// Event type constants for the audit trail
const (
	EventOperationCreated      EventType = "OPERATION_CREATED"
	EventOperationStateChanged EventType = "OPERATION_STATE_CHANGED"
	EventOperationDeleted      EventType = "OPERATION_DELETED"
)

// Event is an audit trail entry. DetailRef points at the subject, an
// operation id for every event the server emits today.
type Event struct {
	ID        int64     `json:"id"`
	Severity  Severity  `json:"severity"`
	EventType EventType `json:"eventType"`
	Message   string    `json:"message"`
	DetailRef string    `json:"detailRef,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Created   int64     `json:"created"`
}

// EventFilter narrows an audit trail query.
type EventFilter struct {
	DetailRef string
	Since     time.Time
	Limit     int
}

// OperationFilter narrows an operation listing. Zero values match everything.
type OperationFilter struct {
	TargetAgentID string
	State         OperationState
	Limit         int
}

// Matches reports whether op passes the filter (Limit is applied by callers).
func (f OperationFilter) Matches(op *Operation) bool {
	if f.TargetAgentID != "" && op.TargetAgentID != f.TargetAgentID {
		return false
	}
	if f.State != "" && op.State != f.State {
		return false
	}
	return true
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
