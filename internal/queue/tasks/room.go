package tasks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/neko-do/engine/internal/orchestrator"
	"github.com/neko-do/engine/pkg/logger"
)

// Task types handled by the worker.
const (
	TypeRoomProvision = "room:provision"
	TypeRoomPollIP    = "room:pollip"
	TypeRoomTeardown  = "room:teardown"
)

// RoomPayload is the task payload for all room lifecycle tasks.
type RoomPayload struct {
	RoomID  string `json:"room_id"`
	Attempt int    `json:"attempt,omitempty"`
}

// RoomTaskHandler dispatches queue tasks into the orchestrator.
type RoomTaskHandler struct {
	orch *orchestrator.Orchestrator
}

func NewRoomTaskHandler(orch *orchestrator.Orchestrator) *RoomTaskHandler {
	return &RoomTaskHandler{orch: orch}
}

// Register wires the handler's task types into the mux.
func (h *RoomTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRoomProvision, h.HandleProvision)
	mux.HandleFunc(TypeRoomPollIP, h.HandlePollIP)
	mux.HandleFunc(TypeRoomTeardown, h.HandleTeardown)
}

func (h *RoomTaskHandler) HandleProvision(ctx context.Context, t *asynq.Task) error {
	p, id, err := parsePayload(t)
	if err != nil {
		return err
	}
	logger.L().Info("handling provision task", zap.String("room_id", p.RoomID))
	return h.orch.BeginProvisioning(ctx, id)
}

func (h *RoomTaskHandler) HandlePollIP(ctx context.Context, t *asynq.Task) error {
	p, id, err := parsePayload(t)
	if err != nil {
		return err
	}
	logger.L().Debug("handling ip poll task", zap.String("room_id", p.RoomID), zap.Int("attempt", p.Attempt))
	return h.orch.PollInstanceIP(ctx, id, p.Attempt)
}

func (h *RoomTaskHandler) HandleTeardown(ctx context.Context, t *asynq.Task) error {
	p, id, err := parsePayload(t)
	if err != nil {
		return err
	}
	logger.L().Info("handling teardown task", zap.String("room_id", p.RoomID))
	_, err = h.orch.DeleteRoom(ctx, id)
	return err
}

func parsePayload(t *asynq.Task) (RoomPayload, uuid.UUID, error) {
	var p RoomPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid room task payload", zap.Error(err), zap.String("type", t.Type()))
		return p, uuid.Nil, err
	}
	id, err := uuid.Parse(p.RoomID)
	if err != nil {
		logger.L().Error("invalid room id in task", zap.Error(err), zap.String("type", t.Type()))
		return p, uuid.Nil, err
	}
	return p, id, nil
}
