package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djkaif/status-monitor/internal/models"
	natsclient "github.com/djkaif/status-monitor/internal/nats"
	"github.com/djkaif/status-monitor/internal/storage"
	"github.com/djkaif/status-monitor/internal/telemetry"
)

// DefaultNodeType tags signals that do not declare a node type.
const DefaultNodeType = "free"

// Config carries the liveness and rotation thresholds.
type Config struct {
	// LivenessThreshold is the maximum silence before an online node is
	// declared offline.
	LivenessThreshold time.Duration
	// RotateAfter is the age of the oldest buffered signal that triggers
	// a rotation into the archive.
	RotateAfter time.Duration
}

// eventPublisher is the messaging surface the server publishes
// transitions through. *natsclient.Publisher satisfies it.
type eventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Server owns the node registry, the signal buffer, the archive and the
// single-consumer delivery state. It is the only writer to all three.
type Server struct {
	cfg     Config
	state   storage.StateStore
	archive storage.ArchiveStore
	pub     eventPublisher
	log     *zap.Logger
	clock   Clock

	// mu guards every read-modify-write sequence spanning the
	// buffer/registry pair, the archive/batch-token pair, and rotation.
	// A single lock is enough at this throughput.
	mu      sync.Mutex
	pending string // outstanding batch token, "" when idle
	events  *eventQueue
}

// New creates a server over the given stores. pub may be nil to disable
// NATS publishing; log may be nil.
func New(cfg Config, state storage.StateStore, archive storage.ArchiveStore, pub *natsclient.Publisher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		state:   state,
		archive: archive,
		log:     log,
		clock:   wallClock{},
		events:  newEventQueue(),
	}
	if pub != nil {
		s.pub = pub
	}
	return s
}

func (s *Server) thresholdSec() int64 {
	return int64(s.cfg.LivenessThreshold / time.Second)
}

func (s *Server) rotateAfterSec() int64 {
	return int64(s.cfg.RotateAfter / time.Second)
}

// Ingest accepts one liveness signal: buffers it (idempotently), promotes
// the node to online, and emits an offline→online event if the node was
// unknown or offline. ts <= 0 means "stamp with now".
func (s *Server) Ingest(ctx context.Context, nodeID, nodeType string, ts int64) error {
	if nodeID == "" {
		return ErrEmptyNode
	}
	if nodeType == "" {
		nodeType = DefaultNodeType
	}
	if ts <= 0 {
		ts = s.clock.Now()
	}

	ev, err := s.ingestLocked(ctx, nodeID, nodeType, ts)
	if err != nil {
		return err
	}
	if ev != nil {
		s.publish(ctx, *ev)
	}
	return nil
}

func (s *Server) ingestLocked(ctx context.Context, nodeID, nodeType string, ts int64) (*models.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := models.Signal{NodeID: nodeID, NodeType: nodeType, ReceivedAt: ts}
	inserted, err := s.state.InsertSignal(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("buffer signal: %w", err)
	}
	if inserted {
		telemetry.SignalsTotal.WithLabelValues("accepted").Inc()
	} else {
		// re-delivery of a signal we already hold; still a success
		telemetry.SignalsTotal.WithLabelValues("duplicate").Inc()
	}

	prev, err := s.state.GetNode(ctx, nodeID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read node: %w", err)
	}
	wasOffline := prev == nil || prev.Status != models.StatusOnline

	node := &models.Node{ID: nodeID, Type: nodeType, Status: models.StatusOnline, LastSeen: ts}
	if err := s.state.SaveNode(ctx, node); err != nil {
		// no event: the registry still shows the old status, so the
		// sender's retry will detect the same edge once
		return nil, fmt.Errorf("save node: %w", err)
	}

	if !wasOffline {
		return nil, nil
	}
	ev := models.TransitionEvent{
		NodeID:    nodeID,
		OldStatus: models.StatusOffline,
		NewStatus: models.StatusOnline,
		Timestamp: ts,
	}
	s.emit(ev)
	return &ev, nil
}

// SweepOnce runs one liveness sweep: every online node silent for longer
// than the threshold is demoted to offline with exactly one event. Nodes
// already offline are left for ingest to revive; the monitor never
// promotes.
func (s *Server) SweepOnce(ctx context.Context) error {
	demoted, err := s.sweepLocked(ctx)
	for _, ev := range demoted {
		s.publish(ctx, ev)
	}
	return err
}

func (s *Server) sweepLocked(ctx context.Context) ([]models.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	nodes, err := s.state.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	var demoted []models.TransitionEvent
	online := 0
	for _, n := range nodes {
		if n.Status != models.StatusOnline {
			continue
		}
		if now-n.LastSeen <= s.thresholdSec() {
			online++
			continue
		}
		n.Status = models.StatusOffline
		// LastSeen stays: it records the last real signal, not the
		// detection time.
		if err := s.state.SaveNode(ctx, &n); err != nil {
			s.log.Error("demote node", zap.String("node", n.ID), zap.Error(err))
			continue
		}
		s.log.Info("node offline",
			zap.String("node", n.ID),
			zap.Int64("last_seen", n.LastSeen),
			zap.Int64("silent_for", now-n.LastSeen))
		ev := models.TransitionEvent{
			NodeID:    n.ID,
			OldStatus: models.StatusOnline,
			NewStatus: models.StatusOffline,
			Timestamp: now,
		}
		s.emit(ev)
		demoted = append(demoted, ev)
	}
	telemetry.NodesOnline.Set(float64(online))
	return demoted, nil
}

// RotateOnce moves the whole buffer into the archive once the oldest
// buffered signal is older than RotateAfter. Insert-or-ignore on the
// dedup key makes a partially completed rotation safe to re-run.
func (s *Server) RotateOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest, err := s.state.OldestSignal(ctx)
	if err != nil {
		return fmt.Errorf("oldest signal: %w", err)
	}
	if oldest == nil {
		return nil
	}
	if s.clock.Now()-oldest.ReceivedAt < s.rotateAfterSec() {
		return nil
	}

	sigs, err := s.state.ListSignals(ctx)
	if err != nil {
		return fmt.Errorf("list buffer: %w", err)
	}
	moved, err := s.archive.InsertIgnore(ctx, sigs)
	if err != nil {
		return fmt.Errorf("archive signals: %w", err)
	}
	if err := s.state.ClearSignals(ctx); err != nil {
		return fmt.Errorf("clear buffer: %w", err)
	}

	telemetry.RotationsTotal.Inc()
	telemetry.RotatedRecords.Add(float64(moved))
	if count, err := s.archive.Count(ctx); err == nil {
		telemetry.ArchiveSize.Set(float64(count))
	}
	s.log.Info("buffer rotated",
		zap.Int("records", len(sigs)),
		zap.Int("archived", moved))
	return nil
}

// Pull snapshots the archive into a new batch. The archive rows stay in
// place until the batch is acknowledged, so a crashed consumer can pull
// again. A pull while another batch is pending supersedes its token.
func (s *Server) Pull(ctx context.Context) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.archive.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	if len(records) == 0 {
		return &models.Batch{Count: 0, Records: []models.Signal{}}, nil
	}

	token := uuid.NewString()
	if s.pending != "" {
		s.log.Warn("superseding pending batch",
			zap.String("old_batch", s.pending),
			zap.String("new_batch", token))
	}
	s.pending = token
	telemetry.BatchesPulled.Inc()
	return &models.Batch{Token: token, Count: len(records), Records: records}, nil
}

// Acknowledge clears the archive if the token matches the pending batch.
// Any mismatch leaves the archive untouched for a retried pull/ack cycle.
func (s *Server) Acknowledge(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == "" {
		telemetry.AckConflicts.Inc()
		return ErrNoBatch
	}
	if token != s.pending {
		telemetry.AckConflicts.Inc()
		return ErrTokenMismatch
	}
	if err := s.archive.Clear(ctx); err != nil {
		return fmt.Errorf("clear archive: %w", err)
	}
	s.pending = ""
	telemetry.BatchesAcked.Inc()
	telemetry.ArchiveSize.Set(0)
	s.log.Info("batch acknowledged", zap.String("batch", token))
	return nil
}

// DrainEvents returns all pending transition events and clears the queue.
func (s *Server) DrainEvents() []models.TransitionEvent {
	return s.events.Drain()
}

// Nodes returns a snapshot of the registry.
func (s *Server) Nodes(ctx context.Context) ([]models.Node, error) {
	return s.state.ListNodes(ctx)
}

// emit queues a transition event for draining. Callers hold s.mu; the
// NATS side happens in publish, outside the lock.
func (s *Server) emit(ev models.TransitionEvent) {
	s.events.Append(ev)
	telemetry.TransitionsTotal.WithLabelValues(ev.NewStatus).Inc()
	s.log.Info("transition",
		zap.String("node", ev.NodeID),
		zap.String("from", ev.OldStatus),
		zap.String("to", ev.NewStatus))
}

// publish sends a transition to NATS best-effort. Never call under s.mu:
// a stalled broker write must not block the handlers or the loops.
func (s *Server) publish(ctx context.Context, ev models.TransitionEvent) {
	if s.pub == nil {
		return
	}
	payload, _ := json.Marshal(ev)
	if err := s.pub.Publish(ctx, natsclient.SubjectTransitions, payload); err != nil {
		s.log.Warn("publish transition", zap.Error(err))
	}
}
