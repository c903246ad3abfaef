// Package scheduler is the periodic reconciliation driver. Every tick it
// runs three independent sweeps: a liveness poll of in-flight rooms, an
// expiration sweep of ready rooms, and a cleanup sweep for rooms stuck in
// provisioning. A sweep failing is logged and never affects the others.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/neko-do/engine/internal/models"
	"github.com/neko-do/engine/internal/orchestrator"
	"github.com/neko-do/engine/internal/repository"
	"github.com/neko-do/engine/pkg/logger"
)

// Config carries the sweep tunables.
type Config struct {
	Interval          time.Duration
	ProvisionDeadline time.Duration
	ProbeTimeout      time.Duration
	ProbePort         int
}

type Scheduler struct {
	cfg   Config
	rooms repository.RoomRepository
	orch  *orchestrator.Orchestrator
	probe *resty.Client
}

func New(cfg Config, rooms repository.RoomRepository, orch *orchestrator.Orchestrator) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		rooms: rooms,
		orch:  orch,
		probe: resty.New().SetTimeout(cfg.ProbeTimeout),
	}
}

// Run drives the sweeps on a fixed interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logger.L().Info("reconciliation scheduler started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.runSweep(ctx, "liveness", s.LivenessSweep)
	s.runSweep(ctx, "expiration", s.ExpirationSweep)
	s.runSweep(ctx, "failure", s.FailureSweep)
}

// runSweep isolates a sweep: a panic or error skips it for this cycle only.
func (s *Scheduler) runSweep(ctx context.Context, name string, sweep func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Error("sweep panicked", zap.String("sweep", name), zap.Any("panic", rec))
		}
	}()
	if err := sweep(ctx); err != nil {
		logger.L().Error("sweep failed", zap.String("sweep", name), zap.Error(err))
	}
}

// LivenessSweep probes the self-reported status endpoint of every
// in-flight room with a known IP and applies any progress it finds. Probe
// failures are expected while an instance is still booting and skip only
// that room.
func (s *Scheduler) LivenessSweep(ctx context.Context) error {
	rooms, err := s.rooms.ListInFlight(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range rooms {
		room := rooms[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.probeRoom(ctx, &room)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) probeRoom(ctx context.Context, room *models.Room) {
	url := fmt.Sprintf("http://%s:%d/", room.IP, s.cfg.ProbePort)
	resp, err := s.probe.R().SetContext(ctx).Get(url)
	if err != nil || resp.IsError() {
		// instance not reachable yet; try again next cycle
		return
	}

	step, status, err := ParseStatusLine(resp.String())
	if err != nil {
		logger.L().Debug("unparseable probe response", zap.String("room_id", room.ID.String()), zap.Error(err))
		return
	}
	if step == room.Step {
		return
	}
	if _, err := s.orch.ApplyStatusReport(ctx, room.ID, status, step); err != nil {
		logger.L().Warn("apply probed status failed", zap.Error(err), zap.String("room_id", room.ID.String()))
	}
}

// ExpirationSweep tears down ready rooms whose expiry has passed, each as
// an independent unit of work.
func (s *Scheduler) ExpirationSweep(ctx context.Context) error {
	rooms, err := s.rooms.ListExpired(ctx, time.Now())
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range rooms {
		room := rooms[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.L().Info("room expired", zap.String("room_id", room.ID.String()), zap.String("name", room.Name))
			if _, err := s.orch.DeleteRoom(ctx, room.ID); err != nil {
				logger.L().Error("expired room teardown failed", zap.Error(err), zap.String("room_id", room.ID.String()))
			}
		}()
	}
	wg.Wait()
	return nil
}

// FailureSweep compensates rooms stuck mid-provisioning past the deadline.
func (s *Scheduler) FailureSweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.ProvisionDeadline)
	rooms, err := s.rooms.ListStuck(ctx, cutoff)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range rooms {
		room := rooms[i]
		if room.Status == models.StatusFailed {
			// already terminal; nothing left to compensate
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.L().Warn("room stuck in provisioning", zap.String("room_id", room.ID.String()), zap.String("status", room.Status))
			if err := s.orch.CleanupFailedRoom(ctx, room.ID); err != nil {
				logger.L().Error("stuck room cleanup failed", zap.Error(err), zap.String("room_id", room.ID.String()))
			}
		}()
	}
	wg.Wait()
	return nil
}

// ParseStatusLine parses the probe body, a single "<step>:<status>" line.
func ParseStatusLine(body string) (int, string, error) {
	line := strings.TrimSpace(body)
	step, status, ok := strings.Cut(line, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed status line %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(step))
	if err != nil {
		return 0, "", fmt.Errorf("malformed step in %q: %w", line, err)
	}
	return n, strings.TrimSpace(status), nil
}
