package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classdeck/livequiz/backend/internal/apperr"
)

const (
	opServiceNew     = "room.service.new"
	opCreate         = "room.create"
	opGet            = "room.get"
	opListByOwner    = "room.list_by_owner"
	opSetStatus      = "room.set_status"
	opDelete         = "room.delete"
	opSnapshot       = "room.snapshot"
	opAppendSnapshot = "room.append_snapshot"
)

// maxCodeAttempts bounds the insert-retry loop on code collision.
const maxCodeAttempts = 5

// ServiceConfig wires the lifecycle manager's dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages room creation, status transitions and the question
// snapshot owned by each room.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindPersistence, opServiceNew, "database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateRequest describes a room to be created with its provisioned snapshot.
type CreateRequest struct {
	OwnerID         string
	QuestionCount   int
	DurationSeconds int
	Questions       []SnapshotQuestion
}

// Create persists the room and bulk-inserts its snapshot in one transaction.
// The shareable code is generated from an ambiguity-free alphabet; a unique
// index plus insert retry removes the check-then-insert collision race.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Room, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, apperr.New(apperr.KindValidation, opCreate, "owner id is required")
	}
	if req.DurationSeconds <= 0 {
		return nil, apperr.New(apperr.KindValidation, opCreate, "duration must be positive")
	}
	if req.QuestionCount <= 0 && len(req.Questions) == 0 {
		return nil, apperr.New(apperr.KindValidation, opCreate, "a question target or provisioned questions are required")
	}

	var created *Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.insertWithUniqueCode(tx, req)
		if err != nil {
			return err
		}
		if len(req.Questions) > 0 {
			snapshots := make([]QuestionSnapshot, 0, len(req.Questions))
			for position, question := range req.Questions {
				snapshots = append(snapshots, QuestionSnapshot{
					RoomID:      inserted.ID,
					Text:        question.Text,
					OptionA:     question.Options[0],
					OptionB:     question.Options[1],
					OptionC:     question.Options[2],
					OptionD:     question.Options[3],
					CorrectText: question.CorrectText,
					Position:    position,
				})
			}
			if err := tx.Create(&snapshots).Error; err != nil {
				return apperr.Wrap(apperr.KindPersistence, opCreate, err)
			}
		}
		created = inserted
		return nil
	})
	if err != nil {
		s.logger.Error("room creation failed", zap.String("owner_id", req.OwnerID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("room created",
		zap.String("code", created.Code),
		zap.String("owner_id", created.OwnerID),
		zap.Int("snapshot_size", len(req.Questions)))
	return created, nil
}

func (s *Service) insertWithUniqueCode(tx *gorm.DB, req CreateRequest) (*Room, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := newCode()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, opCreate, err)
		}
		candidate := Room{
			Code:            code,
			OwnerID:         req.OwnerID,
			QuestionCount:   req.QuestionCount,
			DurationSeconds: req.DurationSeconds,
			Status:          StatusActive,
			CreatedAt:       s.clock().UTC(),
		}
		err = tx.Create(&candidate).Error
		if err == nil {
			return &candidate, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.logger.Warn("room code collision, retrying", zap.String("code", code))
			continue
		}
		return nil, apperr.Wrap(apperr.KindPersistence, opCreate, err)
	}
	return nil, apperr.New(apperr.KindPersistence, opCreate, "room code space exhausted")
}

// GetByCode loads a room by its shareable code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Room, error) {
	var found Room
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, opGet, "room %s not found", code)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opGet, err)
	}
	return &found, nil
}

// ListByOwner returns the owner's rooms, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Room, error) {
	var rooms []Room
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opListByOwner, err)
	}
	return rooms, nil
}

// Close marks the room closed. Closed rooms reject joins and answer writes.
func (s *Service) Close(ctx context.Context, code, ownerID string) (*Room, error) {
	return s.setStatus(ctx, code, ownerID, StatusClosed)
}

// Open reverses Close.
func (s *Service) Open(ctx context.Context, code, ownerID string) (*Room, error) {
	return s.setStatus(ctx, code, ownerID, StatusActive)
}

func (s *Service) setStatus(ctx context.Context, code, ownerID, status string) (*Room, error) {
	found, err := s.ownedRoom(ctx, code, ownerID, opSetStatus)
	if err != nil {
		return nil, err
	}
	if found.Status == status {
		return found, nil
	}
	if err := s.db.WithContext(ctx).Model(found).Update("status", status).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opSetStatus, err)
	}
	found.Status = status
	s.logger.Info("room status changed", zap.String("code", code), zap.String("status", status))
	return found, nil
}

// Delete removes the room and cascades to its snapshot, participants,
// answers and events. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, code, ownerID string) error {
	found, err := s.ownedRoom(ctx, code, ownerID, opDelete)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		statements := []string{
			"DELETE FROM quiz_answers WHERE participant_id IN (SELECT id FROM quiz_participants WHERE room_id = ?)",
			"DELETE FROM quiz_participants WHERE room_id = ?",
			"DELETE FROM room_questions WHERE room_id = ?",
			"DELETE FROM room_events WHERE room_id = ?",
			"DELETE FROM quiz_rooms WHERE id = ?",
		}
		for _, statement := range statements {
			if err := tx.Exec(statement, found.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("room deletion failed", zap.String("code", code), zap.Error(err))
		return apperr.Wrap(apperr.KindPersistence, opDelete, err)
	}

	s.logger.Info("room deleted", zap.String("code", code), zap.String("owner_id", ownerID))
	return nil
}

// Snapshot returns the room's frozen question set in display order.
func (s *Service) Snapshot(ctx context.Context, roomID uint) ([]QuestionSnapshot, error) {
	var snapshots []QuestionSnapshot
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("position ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opSnapshot, err)
	}
	return snapshots, nil
}

// AppendSnapshot adds refill questions to a room that has not started yet.
// Positions continue after the existing snapshot.
func (s *Service) AppendSnapshot(ctx context.Context, roomID uint, questions []SnapshotQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	var target Room
	err := s.db.WithContext(ctx).Take(&target, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.KindNotFound, opAppendSnapshot, "room not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, opAppendSnapshot, err)
	}
	if target.Started {
		return apperr.New(apperr.KindConflict, opAppendSnapshot, "snapshot is frozen once the quiz has started")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nextPosition int64
		if err := tx.Model(&QuestionSnapshot{}).Where("room_id = ?", roomID).Count(&nextPosition).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opAppendSnapshot, err)
		}
		rows := make([]QuestionSnapshot, 0, len(questions))
		for offset, question := range questions {
			rows = append(rows, QuestionSnapshot{
				RoomID:      roomID,
				Text:        question.Text,
				OptionA:     question.Options[0],
				OptionB:     question.Options[1],
				OptionC:     question.Options[2],
				OptionD:     question.Options[3],
				CorrectText: question.CorrectText,
				Position:    int(nextPosition) + offset,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opAppendSnapshot, err)
		}
		return nil
	})
}

// RecordEvent appends one audit row. The feed is non-authoritative, so
// failures are logged and swallowed rather than failing the caller.
func (s *Service) RecordEvent(ctx context.Context, roomID uint, participantID *string, eventType string, payload map[string]any) {
	payloadJSON := ""
	if len(payload) > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("event payload encode failed", zap.String("event_type", eventType), zap.Error(err))
		} else {
			payloadJSON = string(encoded)
		}
	}
	event := Event{
		RoomID:        roomID,
		ParticipantID: participantID,
		Type:          eventType,
		PayloadJSON:   payloadJSON,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logger.Warn("event append failed",
			zap.Uint("room_id", roomID), zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *Service) ownedRoom(ctx context.Context, code, ownerID, op string) (*Room, error) {
	var found Room
	err := s.db.WithContext(ctx).Where("code = ? AND owner_id = ?", code, ownerID).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, op, "room %s not found", code)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	return &found, nil
}
