// Package agent implements the two simulation agent roles: stationary bins
// (requesters) and mobile trucks (contractors). Agents own their state
// exclusively; all cross-agent effects travel as protocol messages.
package agent

import (
	"binsim/internal/model"
	"binsim/internal/protocol"
)

// SendFunc queues an outbound protocol message for delivery by the router.
type SendFunc func(protocol.Message)

// RecordFunc receives a per-task statistics record when a task reaches a
// terminal state.
type RecordFunc func(model.TaskRecord)
