// Package orchestrator owns the room lifecycle state machine. It drives
// each room through the provisioning pipeline, applies progress reported
// by the room's own agent, enforces the renewal policy, and compensates
// for rooms that cannot reach ready.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/neko-do/engine/internal/cloud"
	"github.com/neko-do/engine/internal/credentials"
	"github.com/neko-do/engine/internal/dns"
	"github.com/neko-do/engine/internal/models"
	"github.com/neko-do/engine/internal/notify"
	"github.com/neko-do/engine/internal/provision"
	"github.com/neko-do/engine/internal/repository"
	appErr "github.com/neko-do/engine/pkg/errors"
	"github.com/neko-do/engine/pkg/logger"
	"github.com/neko-do/engine/pkg/utils"
)

// Config carries the provider settings and lifecycle tunables. Everything
// is explicit; the orchestrator holds no ambient globals.
type Config struct {
	Domain          string
	ProjectID       string
	SSHKeyID        string
	Region          string
	Size            string
	Image           string
	CallbackBaseURL string
	ProbePort       int

	RoomTTL         time.Duration
	RenewWindow     time.Duration
	PollBaseDelay   time.Duration
	PollMaxDelay    time.Duration
	PollMaxAttempts int
}

// TaskEnqueuer is the slice of asynq.Client the orchestrator uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Orchestrator struct {
	cfg      Config
	rooms    repository.RoomRepository
	compute  cloud.Provider
	dns      dns.Provider
	issuer   credentials.Issuer
	notifier notify.Notifier
	queue    TaskEnqueuer
}

func New(cfg Config, rooms repository.RoomRepository, compute cloud.Provider, dnsProvider dns.Provider, issuer credentials.Issuer, notifier notify.Notifier, queue TaskEnqueuer) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		rooms:    rooms,
		compute:  compute,
		dns:      dnsProvider,
		issuer:   issuer,
		notifier: notifier,
		queue:    queue,
	}
}

// RequestProvision validates options, persists a new submitted room and
// kicks off asynchronous provisioning. It returns immediately; progress is
// observable via GetStatus.
func (o *Orchestrator) RequestProvision(ctx context.Context, opts provision.Options, callbackURL string) (*models.Room, error) {
	if err := provision.ValidateAndFill(&opts); err != nil {
		return nil, err
	}

	room := &models.Room{
		Name:          "neko-room-" + utils.RandomHex(4),
		Status:        models.StatusSubmitted,
		Step:          models.StepSubmitted,
		Image:         opts.Image,
		Resolution:    opts.Resolution,
		FPS:           opts.FPS,
		Password:      opts.Password,
		AdminPassword: opts.AdminPassword,
		CallbackURL:   callbackURL,
		ExpiresAt:     time.Now().Add(o.cfg.RoomTTL),
	}
	if err := o.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	if err := o.enqueue(ctx, "room:provision", map[string]any{"room_id": room.ID.String()}); err != nil {
		logger.L().Error("enqueue provision task failed", zap.Error(err), zap.String("room_id", room.ID.String()))
		_, _ = o.mutate(ctx, room.ID, func(r *models.Room) (bool, error) {
			r.Status = models.StatusFailed
			r.Step = models.StepFailed
			return true, nil
		})
		return nil, appErr.Wrap(err, appErr.CodeInternal, "enqueue provision task failed")
	}

	logger.L().Info("room submitted", zap.String("room_id", room.ID.String()), zap.String("name", room.Name))
	return room, nil
}

// BeginProvisioning issues the room's scoped credential, builds the boot
// payload, creates the compute instance and schedules the first deferred
// IP poll. Called from the provision task handler.
func (o *Orchestrator) BeginProvisioning(ctx context.Context, roomID uuid.UUID) error {
	var room models.Room
	if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil
		}
		return err
	}
	if room.Status != models.StatusSubmitted || room.InstanceID != 0 {
		// duplicate delivery or already past this step
		return nil
	}

	// Issue the credential once and persist it before touching the
	// provider, so a redelivered task reuses it instead of colliding on
	// the account name.
	var credID uuid.UUID
	if room.CredentialID != nil {
		credID = *room.CredentialID
	} else {
		var err error
		credID, err = o.issuer.IssueAccount(ctx, room.Name, models.RoleRoom, utils.RandomSecret())
		if err != nil {
			logger.L().Error("issue room credential failed", zap.Error(err), zap.String("room_id", roomID.String()))
			return o.CleanupFailedRoom(ctx, roomID)
		}
		if _, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
			r.CredentialID = &credID
			return true, nil
		}); err != nil {
			return err
		}
	}
	token, err := o.issuer.IssueToken(credID, models.RoleRoom)
	if err != nil {
		logger.L().Error("issue room token failed", zap.Error(err), zap.String("room_id", roomID.String()))
		return o.CleanupFailedRoom(ctx, roomID)
	}

	script := provision.BootScript(provision.Options{
		Image:         room.Image,
		Resolution:    room.Resolution,
		FPS:           room.FPS,
		Password:      room.Password,
		AdminPassword: room.AdminPassword,
	}, provision.ScriptParams{
		Domain:        o.cfg.Domain,
		Subdomain:     room.Name,
		CallbackURL:   o.cfg.CallbackBaseURL + "/api/v1/rooms/callback",
		CallbackToken: token,
		StatusPort:    o.cfg.ProbePort,
	})

	inst, err := o.compute.CreateInstance(ctx, cloud.InstanceSpec{
		Name:     room.Name,
		Region:   o.cfg.Region,
		Size:     o.cfg.Size,
		Image:    o.cfg.Image,
		SSHKeyID: o.cfg.SSHKeyID,
		UserData: script,
		Tags:     []string{"neko"},
	})
	if err != nil {
		if appErr.IsTransient(err) {
			// let asynq redeliver; the failure sweep bounds total time
			return err
		}
		logger.L().Error("create instance rejected", zap.Error(err), zap.String("room_id", roomID.String()))
		return o.CleanupFailedRoom(ctx, roomID)
	}

	if _, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		r.InstanceID = inst.ID
		return true, nil
	}); err != nil {
		return err
	}
	logger.L().Info("instance created", zap.String("room_id", roomID.String()), zap.Int64("instance_id", inst.ID))

	if o.cfg.ProjectID != "" {
		if err := o.compute.AssociateWithProject(ctx, o.cfg.ProjectID, inst.ID); err != nil {
			logger.L().Warn("associate instance with project failed", zap.Error(err), zap.Int64("instance_id", inst.ID))
		}
	}

	// deferred first poll: give the instance time to boot
	return o.enqueueIn(ctx, "room:pollip", map[string]any{"room_id": roomID.String(), "attempt": 0}, o.cfg.PollBaseDelay)
}

// PollInstanceIP checks whether the instance is active yet. While it is
// not, the poll reschedules itself with jittered exponential backoff; once
// the attempt budget is exhausted the room is handed to the compensation
// path. On success the IP is recorded and DNS registration follows
// immediately.
func (o *Orchestrator) PollInstanceIP(ctx context.Context, roomID uuid.UUID, attempt int) error {
	var room models.Room
	if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			// the room was deleted while the retry was in flight
			return nil
		}
		return err
	}
	if room.Terminal() || room.InstanceID == 0 {
		return nil
	}

	if room.IP == "" {
		st, err := o.compute.GetInstanceStatus(ctx, room.InstanceID)
		switch {
		case err != nil && appErr.IsTransient(err):
			return o.reschedulePoll(ctx, roomID, attempt)
		case err != nil:
			logger.L().Error("instance status query rejected", zap.Error(err), zap.String("room_id", roomID.String()))
			return o.CleanupFailedRoom(ctx, roomID)
		case st.State != cloud.StateActive || st.IP == "":
			return o.reschedulePoll(ctx, roomID, attempt)
		}

		updated, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
			if r.IP != "" {
				return false, nil
			}
			r.IP = st.IP
			r.Status = models.StatusIPAcquired
			r.Step = models.StepIPAcquired
			return true, nil
		})
		if err != nil {
			return err
		}
		room = *updated
		logger.L().Info("instance active", zap.String("room_id", roomID.String()), zap.String("ip", room.IP))
		o.fireWebhook(ctx, &room)
	}

	if err := o.RegisterDNSRecord(ctx, roomID); err != nil {
		if appErr.IsTransient(err) {
			return o.reschedulePoll(ctx, roomID, attempt)
		}
		logger.L().Error("dns registration rejected", zap.Error(err), zap.String("room_id", roomID.String()))
		return o.CleanupFailedRoom(ctx, roomID)
	}
	return nil
}

func (o *Orchestrator) reschedulePoll(ctx context.Context, roomID uuid.UUID, attempt int) error {
	next := attempt + 1
	if next >= o.cfg.PollMaxAttempts {
		logger.L().Warn("instance poll budget exhausted", zap.String("room_id", roomID.String()), zap.Int("attempts", next))
		return o.CleanupFailedRoom(ctx, roomID)
	}
	return o.enqueueIn(ctx, "room:pollip", map[string]any{"room_id": roomID.String(), "attempt": next}, o.pollDelay(next))
}

// pollDelay is jittered exponential backoff: base*2^attempt capped at the
// max, with up to half the delay of random jitter.
func (o *Orchestrator) pollDelay(attempt int) time.Duration {
	d := o.cfg.PollBaseDelay
	for i := 0; i < attempt && d < o.cfg.PollMaxDelay; i++ {
		d *= 2
	}
	if d > o.cfg.PollMaxDelay {
		d = o.cfg.PollMaxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}

// RegisterDNSRecord creates the room's A-record. It is an idempotent
// no-op when a record was already registered.
func (o *Orchestrator) RegisterDNSRecord(ctx context.Context, roomID uuid.UUID) error {
	var room models.Room
	if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
		return err
	}
	if room.DNSRecordID != 0 || room.URL != "" {
		return nil
	}
	if room.IP == "" {
		return appErr.New(appErr.CodeInvalid, "room has no ip to register")
	}

	recordID, err := o.dns.CreateRecord(ctx, o.cfg.Domain, dns.RecordSpec{
		Type: "A",
		Name: room.Name,
		Data: room.IP,
	})
	if err != nil {
		return err
	}

	updated, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		if r.DNSRecordID != 0 {
			return false, nil
		}
		r.DNSRecordID = recordID
		r.URL = r.Name + "." + o.cfg.Domain
		r.Status = models.StatusRecordCreated
		r.Step = models.StepRecordCreated
		return true, nil
	})
	if err != nil {
		return err
	}
	logger.L().Info("dns record created", zap.String("room_id", roomID.String()), zap.String("url", updated.URL))
	o.fireWebhook(ctx, updated)
	return nil
}

// ApplyStatusReport applies a progress update from the room's agent,
// whether pushed over the callback endpoint or pulled by the liveness
// sweep. Step acts purely as a change counter: stale or duplicate reports
// are discarded, and the only allowed decrease is the failure sentinel.
func (o *Orchestrator) ApplyStatusReport(ctx context.Context, roomID uuid.UUID, status string, step int) (*models.Room, error) {
	switch status {
	case models.StatusSubmitted, models.StatusIPAcquired, models.StatusRecordCreated,
		models.StatusProxyReady, models.StatusReady, models.StatusFailed:
	default:
		return nil, appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown reported status %q", status))
	}
	if step < 0 && step != models.StepFailed {
		return nil, appErr.New(appErr.CodeInvalid, "invalid reported step")
	}

	changed := false
	room, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		changed = false
		if r.Terminal() {
			return false, nil
		}
		if step == r.Step {
			return false, nil
		}
		if step < r.Step && step != models.StepFailed {
			return false, nil
		}
		r.Status = status
		r.Step = step
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		logger.L().Info("status report applied",
			zap.String("room_id", roomID.String()),
			zap.String("status", status),
			zap.Int("step", step),
		)
		o.fireWebhook(ctx, room)
	}
	return room, nil
}

// Renew extends a ready room's expiry to one renew-window from now, but
// only when the room is inside the renewal window: expired rooms are left
// for the expiration sweep, and rooms with more than a window of life left
// are untouched to avoid churn.
func (o *Orchestrator) Renew(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	return o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		if r.Status != models.StatusReady {
			return false, nil
		}
		remaining := time.Until(r.ExpiresAt)
		if remaining <= 0 || remaining > o.cfg.RenewWindow {
			return false, nil
		}
		r.ExpiresAt = time.Now().Add(o.cfg.RenewWindow)
		return true, nil
	})
}

// MarkForDeletion flags the room as decommissioning. Advisory only;
// actual teardown is DeleteRoom.
func (o *Orchestrator) MarkForDeletion(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	changed := false
	room, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		changed = false
		if r.Terminal() {
			return false, nil
		}
		r.Status = models.StatusDecommissioning
		r.Step++
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		o.fireWebhook(ctx, room)
	}
	return room, nil
}

// RequestTeardown marks the room as decommissioning and enqueues the
// asynchronous teardown.
func (o *Orchestrator) RequestTeardown(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := o.MarkForDeletion(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := o.enqueue(ctx, "room:teardown", map[string]any{"room_id": roomID.String()}); err != nil {
		logger.L().Error("enqueue teardown task failed", zap.Error(err), zap.String("room_id", roomID.String()))
		return nil, appErr.Wrap(err, appErr.CodeInternal, "enqueue teardown task failed")
	}
	return room, nil
}

// DeleteRoom tears down the room's external resources and soft-deletes
// the record: DNS first, then the instance, then terminal destroyed state
// with blanked secrets and a disabled credential. Every sub-step is
// best-effort; a failure is logged and the sequence continues.
func (o *Orchestrator) DeleteRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
		return nil, err
	}
	if room.Status == models.StatusDestroyed {
		return &room, nil
	}

	if room.DNSRecordID != 0 {
		if err := o.dns.DeleteRecord(ctx, o.cfg.Domain, room.DNSRecordID); err != nil {
			logger.L().Warn("delete dns record failed", zap.Error(err), zap.String("room_id", roomID.String()))
		}
		if updated, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
			r.Status = models.StatusRecordDestroyed
			r.Step++
			return true, nil
		}); err == nil {
			room = *updated
		} else {
			logger.L().Warn("persist record_destroyed failed", zap.Error(err), zap.String("room_id", roomID.String()))
		}
	}

	if room.InstanceID != 0 {
		if err := o.compute.DeleteInstance(ctx, room.InstanceID); err != nil {
			logger.L().Warn("delete instance failed", zap.Error(err), zap.Int64("instance_id", room.InstanceID))
		}
	}

	updated, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		r.Status = models.StatusDestroyed
		r.Step++
		r.Password = ""
		r.AdminPassword = ""
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	room = *updated

	if room.CredentialID != nil {
		if err := o.issuer.DisableAccount(ctx, *room.CredentialID); err != nil {
			logger.L().Warn("disable room credential failed", zap.Error(err), zap.String("room_id", roomID.String()))
		}
	}

	logger.L().Info("room destroyed", zap.String("room_id", roomID.String()), zap.String("name", room.Name))
	o.fireWebhook(ctx, &room)
	return &room, nil
}

// CleanupFailedRoom is the compensating transaction for a room stuck
// mid-provisioning: best-effort teardown of whatever external resources
// exist, then a forced failed terminal state. The room reaches failed even
// if every external call errors.
func (o *Orchestrator) CleanupFailedRoom(ctx context.Context, roomID uuid.UUID) error {
	var room models.Room
	if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil
		}
		return err
	}
	if room.Terminal() {
		return nil
	}

	if room.InstanceID != 0 {
		if err := o.compute.DeleteInstance(ctx, room.InstanceID); err != nil {
			logger.L().Warn("cleanup: delete instance failed", zap.Error(err), zap.Int64("instance_id", room.InstanceID))
		}
	}
	if room.URL != "" && room.DNSRecordID != 0 {
		if err := o.dns.DeleteRecord(ctx, o.cfg.Domain, room.DNSRecordID); err != nil {
			logger.L().Warn("cleanup: delete dns record failed", zap.Error(err), zap.String("room_id", roomID.String()))
		}
	}
	if room.CredentialID != nil {
		if err := o.issuer.DisableAccount(ctx, *room.CredentialID); err != nil {
			logger.L().Warn("cleanup: disable room credential failed", zap.Error(err), zap.String("room_id", roomID.String()))
		}
	}

	updated, err := o.mutate(ctx, roomID, func(r *models.Room) (bool, error) {
		r.Status = models.StatusFailed
		r.Step = models.StepFailed
		return true, nil
	})
	if err != nil {
		return err
	}

	logger.L().Warn("room failed", zap.String("room_id", roomID.String()), zap.String("name", updated.Name))
	o.fireWebhook(ctx, updated)
	return nil
}

// GetStatus returns the room by id.
func (o *Orchestrator) GetStatus(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// RoomByCredential resolves the room a reporting agent's credential is
// scoped to.
func (o *Orchestrator) RoomByCredential(ctx context.Context, credentialID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := o.rooms.GetByCredential(ctx, credentialID, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// mutate runs a read-modify-write against the room with optimistic
// version checking, re-fetching and replaying on conflict.
func (o *Orchestrator) mutate(ctx context.Context, roomID uuid.UUID, fn func(*models.Room) (bool, error)) (*models.Room, error) {
	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		var room models.Room
		if err := o.rooms.GetByID(ctx, roomID, &room); err != nil {
			return nil, err
		}
		changed, err := fn(&room)
		if err != nil {
			return nil, err
		}
		if !changed {
			return &room, nil
		}
		err = o.rooms.Save(ctx, &room)
		if err == nil {
			return &room, nil
		}
		if !appErr.IsCode(err, appErr.CodeConflict) || attempt >= maxAttempts {
			return nil, err
		}
	}
}

func (o *Orchestrator) fireWebhook(ctx context.Context, room *models.Room) {
	if room.CallbackURL == "" || o.notifier == nil {
		return
	}
	if err := o.notifier.Post(ctx, room.CallbackURL, room.State()); err != nil {
		logger.L().Warn("webhook delivery failed", zap.Error(err), zap.String("room_id", room.ID.String()))
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, typename string, payload map[string]any) error {
	return o.enqueueIn(ctx, typename, payload, 0)
}

func (o *Orchestrator) enqueueIn(ctx context.Context, typename string, payload map[string]any, delay time.Duration) error {
	if o.queue == nil {
		logger.L().Warn("task queue not configured, skipping enqueue", zap.String("task", typename))
		return nil
	}
	pb, _ := json.Marshal(payload)
	opts := []asynq.Option{}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := o.queue.EnqueueContext(ctx, asynq.NewTask(typename, pb), opts...); err != nil {
		return err
	}
	return nil
}
