// Package tracker owns the command lifecycle and the per-agent mailbox.
package tracker

import (
	"fmt"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.CommandStatus][]types.CommandStatus{
	types.CommandPending:   {types.CommandExecuting, types.CommandCompleted, types.CommandCancelled},
	types.CommandExecuting: {types.CommandCompleted, types.CommandFailed},
	types.CommandCompleted: {},
	types.CommandFailed:    {},
	types.CommandCancelled: {},
}

// CanTransition checks if transitioning from one command status to another is valid.
func CanTransition(from, to types.CommandStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates and returns an error if the transition is invalid.
func Transition(from, to types.CommandStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.CommandStatus) bool {
	return status == types.CommandCompleted || status == types.CommandFailed || status == types.CommandCancelled
}
