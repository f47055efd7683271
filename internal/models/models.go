package models

import "strconv"

// Node statuses. The registry is the single owner of a node's status:
// ingest promotes to online, the liveness monitor demotes to offline.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Node is the registry entry for a reporting worker.
// Created on first signal from an unseen identifier, never deleted.
type Node struct {
	ID       string `json:"node_id"`
	Type     string `json:"node_type"`
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// Signal is one accepted liveness report. Signals are insert-only:
// they live in the buffer until rotation and in the archive until a
// batch acknowledgment clears them.
type Signal struct {
	NodeID     string `json:"node_id"`
	NodeType   string `json:"node_type"`
	ReceivedAt int64  `json:"received_at"`
}

// DedupKey identifies a signal across the buffer/archive boundary.
// Two reports from the same node with the same timestamp are one signal.
func (s Signal) DedupKey() string {
	return s.NodeID + ":" + strconv.FormatInt(s.ReceivedAt, 10)
}

// TransitionEvent records one edge of a node's liveness state machine.
// Emitted exactly once per transition, never once per sweep.
type TransitionEvent struct {
	NodeID    string `json:"node_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Timestamp int64  `json:"timestamp"`
}

// Batch is a snapshot of the archive handed to the consumer by a pull.
// At most one batch is outstanding; only a matching acknowledge destroys it.
type Batch struct {
	Token   string   `json:"batch_id,omitempty"`
	Count   int      `json:"count"`
	Records []Signal `json:"data"`
}
