package server

import "errors"

var (
	// ErrEmptyNode rejects a signal without a node identifier.
	ErrEmptyNode = errors.New("node id required")
	// ErrNoBatch rejects an acknowledge when no batch is outstanding.
	ErrNoBatch = errors.New("no batch pending")
	// ErrTokenMismatch rejects an acknowledge whose token is not the
	// currently pending one. The archive is left untouched so a fresh
	// pull/ack cycle can still succeed.
	ErrTokenMismatch = errors.New("batch token mismatch")
)
