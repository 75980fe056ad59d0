package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classdeck/livequiz/backend/internal/apperr"
	"github.com/classdeck/livequiz/backend/internal/room"
)

const (
	opServiceNew   = "session.service.new"
	opJoin         = "session.join"
	opStart        = "session.start"
	opSubmitAnswer = "session.submit_answer"
	opFinish       = "session.finish"
	opHeartbeat    = "session.heartbeat"
	opLeave        = "session.leave"
	opGet          = "session.get"
)

// IDProvider issues participant identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the session manager's dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Rooms      *room.Service
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service drives the participant state machine: join, promotion on start,
// idempotent answer recording and the finish event.
type Service struct {
	db         *gorm.DB
	rooms      *room.Service
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindPersistence, opServiceNew, "database handle is required")
	}
	if cfg.Rooms == nil {
		return nil, apperr.New(apperr.KindPersistence, opServiceNew, "room service is required")
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(apperr.KindPersistence, opServiceNew, "id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		rooms:      cfg.Rooms,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Join registers a participant in an active room. If the quiz has already
// started the late joiner skips the lobby and is promoted directly to active.
func (s *Service) Join(ctx context.Context, code, name, rollID string) (*Participant, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.New(apperr.KindValidation, opJoin, "display name is required")
	}

	target, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !target.IsActive() {
		return nil, apperr.Newf(apperr.KindConflict, opJoin, "room %s is closed", code)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&room.QuestionSnapshot{}).Where("room_id = ?", target.ID).Count(&total).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opJoin, err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opJoin, err)
	}

	now := s.clock().UTC()
	status := StatusWaiting
	if target.Started {
		status = StatusActive
	}
	participant := Participant{
		ID:             id,
		RoomID:         target.ID,
		Name:           strings.TrimSpace(name),
		RollID:         strings.TrimSpace(rollID),
		Status:         status,
		TotalQuestions: int(total),
		JoinedAt:       now,
		LastActivityAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&participant).Error; err != nil {
		s.logger.Error("participant join failed", zap.String("code", code), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistence, opJoin, err)
	}

	s.rooms.RecordEvent(ctx, target.ID, &participant.ID, room.EventJoined, map[string]any{
		"name": participant.Name,
		"roll": participant.RollID,
	})
	return &participant, nil
}

// Start flips the room's one-way started flag, stamps the start time,
// promotes every waiting participant to active and refreshes each
// participant's question total against the final snapshot, all in one
// transaction. It fails when the room is closed, already started, or
// nobody is waiting.
func (s *Service) Start(ctx context.Context, code, ownerID string) (int, error) {
	moved := 0
	var roomID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target room.Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ? AND owner_id = ?", code, ownerID).
			Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Newf(apperr.KindNotFound, opStart, "room %s not found", code)
		}
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, opStart, err)
		}
		if !target.IsActive() {
			return apperr.New(apperr.KindConflict, opStart, "room is closed")
		}
		if target.Started {
			return apperr.New(apperr.KindConflict, opStart, "quiz already started")
		}

		var waiting int64
		if err := tx.Model(&Participant{}).
			Where("room_id = ? AND status = ?", target.ID, StatusWaiting).
			Count(&waiting).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opStart, err)
		}
		if waiting == 0 {
			return apperr.New(apperr.KindConflict, opStart, "no participants waiting")
		}

		now := s.clock().UTC()
		if err := tx.Model(&target).Updates(map[string]any{
			"started":    true,
			"started_at": now,
		}).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opStart, err)
		}

		promotion := tx.Model(&Participant{}).
			Where("room_id = ? AND status = ?", target.ID, StatusWaiting).
			Update("status", StatusActive)
		if promotion.Error != nil {
			return apperr.Wrap(apperr.KindPersistence, opStart, promotion.Error)
		}
		moved = int(promotion.RowsAffected)

		// The snapshot may have grown through refills since participants
		// joined. The start freezes it, so refresh every total here.
		var total int64
		if err := tx.Model(&room.QuestionSnapshot{}).
			Where("room_id = ?", target.ID).
			Count(&total).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opStart, err)
		}
		if err := tx.Model(&Participant{}).
			Where("room_id = ?", target.ID).
			Update("total_questions", int(total)).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opStart, err)
		}
		roomID = target.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.rooms.RecordEvent(ctx, roomID, nil, room.EventQuizStarted, map[string]any{
		"participants_moved": moved,
	})
	s.logger.Info("quiz started", zap.String("code", code), zap.Int("participants_moved", moved))
	return moved, nil
}

// SubmitAnswer records the participant's latest choice for a question.
// Correctness is derived by comparing the chosen option's text against the
// snapshot's stored correct-answer text; a snapshot whose correct text
// matches none of the options resolves to incorrect. The write is an atomic
// upsert on the (participant, question) unique key, and the score is
// recomputed as the count of correct answers rather than incremented.
func (s *Service) SubmitAnswer(ctx context.Context, participantID string, questionID uint, letter string) (bool, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter != "A" && letter != "B" && letter != "C" && letter != "D" {
		return false, apperr.Newf(apperr.KindValidation, opSubmitAnswer, "letter %q is not one of A-D", letter)
	}

	participant, err := s.Get(ctx, participantID)
	if err != nil {
		return false, err
	}

	var question room.QuestionSnapshot
	err = s.db.WithContext(ctx).Take(&question, questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, apperr.New(apperr.KindNotFound, opSubmitAnswer, "question not found")
	}
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistence, opSubmitAnswer, err)
	}
	if question.RoomID != participant.RoomID {
		return false, apperr.New(apperr.KindConflict, opSubmitAnswer, "question belongs to a different room")
	}

	var target room.Room
	if err := s.db.WithContext(ctx).Take(&target, participant.RoomID).Error; err != nil {
		return false, apperr.Wrap(apperr.KindPersistence, opSubmitAnswer, err)
	}
	if !target.IsActive() {
		return false, apperr.New(apperr.KindConflict, opSubmitAnswer, "room is closed")
	}

	chosen, _ := question.OptionAt(letter)
	isCorrect := chosen != "" && chosen == question.CorrectText
	now := s.clock().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		answer := Answer{
			ParticipantID: participant.ID,
			QuestionID:    question.ID,
			Letter:        letter,
			IsCorrect:     isCorrect,
			AnsweredAt:    now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "participant_id"}, {Name: "question_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"letter":      letter,
				"is_correct":  isCorrect,
				"answered_at": now,
			}),
		}).Create(&answer).Error
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, opSubmitAnswer, err)
		}
		return s.recalculate(tx, participant.ID, now)
	})
	if err != nil {
		s.logger.Error("answer submission failed",
			zap.String("participant_id", participantID), zap.Uint("question_id", questionID), zap.Error(err))
		return false, err
	}

	s.rooms.RecordEvent(ctx, participant.RoomID, &participant.ID, room.EventAnswered, map[string]any{
		"question_id": question.ID,
		"letter":      letter,
		"is_correct":  isCorrect,
	})
	return isCorrect, nil
}

// AnswerSubmission is one entry of the finish-time batch fallback.
type AnswerSubmission struct {
	QuestionID uint
	Letter     string
}

// Finish marks the participant completed. The submitted batch is stored only
// where no answer row exists yet, covering clients whose per-answer writes
// were lost; the score is then recomputed from the stored rows, so the
// client-reported score is advisory.
func (s *Service) Finish(ctx context.Context, participantID, code string, reportedScore, reportedTotal int, answers []AnswerSubmission) (*Participant, error) {
	participant, err := s.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	target, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if participant.RoomID != target.ID {
		return nil, apperr.New(apperr.KindConflict, opFinish, "participant belongs to a different room")
	}

	now := s.clock().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, submission := range answers {
			letter := strings.ToUpper(strings.TrimSpace(submission.Letter))
			var question room.QuestionSnapshot
			if err := tx.Take(&question, submission.QuestionID).Error; err != nil {
				continue
			}
			if question.RoomID != target.ID {
				continue
			}
			chosen, ok := question.OptionAt(letter)
			if !ok {
				continue
			}
			fallback := Answer{
				ParticipantID: participant.ID,
				QuestionID:    question.ID,
				Letter:        letter,
				IsCorrect:     chosen == question.CorrectText,
				AnsweredAt:    now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "participant_id"}, {Name: "question_id"}},
				DoNothing: true,
			}).Create(&fallback).Error
			if err != nil {
				return apperr.Wrap(apperr.KindPersistence, opFinish, err)
			}
		}

		if err := tx.Model(&Participant{}).Where("id = ?", participant.ID).Updates(map[string]any{
			"status":           StatusCompleted,
			"finished_at":      now,
			"last_activity_at": now,
		}).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, opFinish, err)
		}
		return s.recalculate(tx, participant.ID, now)
	})
	if err != nil {
		return nil, err
	}

	finished, err := s.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if finished.Score != reportedScore {
		s.logger.Warn("client-reported score differs from derived score",
			zap.String("participant_id", participantID),
			zap.Int("reported", reportedScore),
			zap.Int("derived", finished.Score),
			zap.Int("reported_total", reportedTotal))
	}

	s.rooms.RecordEvent(ctx, target.ID, &participant.ID, room.EventCompleted, map[string]any{
		"score": finished.Score,
		"total": finished.TotalQuestions,
	})
	return finished, nil
}

// Heartbeat bumps last_activity and nothing else.
func (s *Service) Heartbeat(ctx context.Context, participantID string) error {
	result := s.db.WithContext(ctx).Model(&Participant{}).
		Where("id = ?", participantID).
		Update("last_activity_at", s.clock().UTC())
	if result.Error != nil {
		return apperr.Wrap(apperr.KindPersistence, opHeartbeat, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, opHeartbeat, "participant not found")
	}
	return nil
}

// Leave hard-deletes the participant and their answers. Rejoining creates a
// brand-new participant with no memory of prior progress.
func (s *Service) Leave(ctx context.Context, participantID, code string) error {
	participant, err := s.Get(ctx, participantID)
	if err != nil {
		return err
	}
	target, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if participant.RoomID != target.ID {
		return apperr.New(apperr.KindConflict, opLeave, "participant belongs to a different room")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("participant_id = ?", participant.ID).Delete(&Answer{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Participant{}, "id = ?", participant.ID).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, opLeave, err)
	}

	s.rooms.RecordEvent(ctx, target.ID, &participant.ID, room.EventLeft, map[string]any{
		"name": participant.Name,
	})
	return nil
}

// Get loads one participant by id.
func (s *Service) Get(ctx context.Context, participantID string) (*Participant, error) {
	var participant Participant
	err := s.db.WithContext(ctx).Where("id = ?", participantID).Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, opGet, "participant not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opGet, err)
	}
	return &participant, nil
}

// recalculate derives the score as the count of correct answer rows and
// the progress index as the count of answered questions.
func (s *Service) recalculate(tx *gorm.DB, participantID string, now time.Time) error {
	var correct int64
	if err := tx.Model(&Answer{}).
		Where("participant_id = ? AND is_correct = ?", participantID, true).
		Count(&correct).Error; err != nil {
		return apperr.Wrap(apperr.KindPersistence, opSubmitAnswer, err)
	}
	var answered int64
	if err := tx.Model(&Answer{}).
		Where("participant_id = ?", participantID).
		Count(&answered).Error; err != nil {
		return apperr.Wrap(apperr.KindPersistence, opSubmitAnswer, err)
	}
	return tx.Model(&Participant{}).Where("id = ?", participantID).Updates(map[string]any{
		"score":            correct,
		"current_index":    answered,
		"last_activity_at": now,
	}).Error
}
