package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// minInterval floors the background periods so a tiny threshold cannot
// turn a loop into a busy-wait.
const minInterval = time.Second

// MonitorInterval returns the liveness sweep period: the configured value
// when positive, otherwise half the liveness threshold, floored.
func (s *Server) MonitorInterval(configured time.Duration) time.Duration {
	return floorInterval(configured, s.cfg.LivenessThreshold/2)
}

// RotateInterval returns the rotation check period: the configured value
// when positive, otherwise half the rotation age, floored.
func (s *Server) RotateInterval(configured time.Duration) time.Duration {
	return floorInterval(configured, s.cfg.RotateAfter/2)
}

func floorInterval(configured, fallback time.Duration) time.Duration {
	iv := configured
	if iv <= 0 {
		iv = fallback
	}
	if iv < minInterval {
		iv = minInterval
	}
	return iv
}

// RunMonitor runs the liveness sweep until ctx is cancelled. A failed
// sweep is logged and the loop continues on the next tick.
func (s *Server) RunMonitor(ctx context.Context, interval time.Duration) {
	interval = s.MonitorInterval(interval)
	s.log.Info("liveness monitor started", zap.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("liveness monitor stopped")
			return
		case <-t.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("liveness sweep failed", zap.Error(err))
			}
		}
	}
}

// RunRotator runs the buffer rotation check until ctx is cancelled. A
// failed rotation is logged and retried on the next tick.
func (s *Server) RunRotator(ctx context.Context, interval time.Duration) {
	interval = s.RotateInterval(interval)
	s.log.Info("rotator started", zap.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("rotator stopped")
			return
		case <-t.C:
			if err := s.RotateOnce(ctx); err != nil {
				s.log.Error("rotation failed", zap.Error(err))
			}
		}
	}
}
