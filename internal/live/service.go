package live

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classdeck/livequiz/backend/internal/apperr"
	"github.com/classdeck/livequiz/backend/internal/room"
	"github.com/classdeck/livequiz/backend/internal/session"
)

const (
	opServiceNew  = "live.service.new"
	opLobbyStatus = "live.lobby_status"
	opQuizStatus  = "live.quiz_status"
	opLiveStats   = "live.live_stats"
)

// ServiceConfig wires the polling protocol's dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service serves the idempotent polling endpoints from which clients
// re-derive authoritative state. There is no push channel: a page refresh or
// reconnect recovers everything from these snapshots.
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

// WaitingParticipant is one lobby entry.
type WaitingParticipant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LobbyStatus is the lobby-poll response.
type LobbyStatus struct {
	QuizStarted bool                 `json:"quiz_started"`
	RoomClosed  bool                 `json:"room_closed"`
	Waiting     []WaitingParticipant `json:"waiting_participants"`
}

// Lobby reports the pre-start state of a room. Polling it also bumps the
// requesting participant's last_activity.
func (s *Service) Lobby(ctx context.Context, code, participantID string) (*LobbyStatus, error) {
	target, err := s.roomByCode(ctx, code, opLobbyStatus)
	if err != nil {
		return nil, err
	}

	if participantID != "" {
		if err := s.db.WithContext(ctx).Model(&session.Participant{}).
			Where("id = ? AND room_id = ?", participantID, target.ID).
			Update("last_activity_at", s.clock().UTC()).Error; err != nil {
			s.logger.Warn("lobby activity bump failed", zap.String("participant_id", participantID), zap.Error(err))
		}
	}

	var waiting []session.Participant
	if err := s.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", target.ID, session.StatusWaiting).
		Order("joined_at ASC").
		Find(&waiting).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opLobbyStatus, err)
	}

	status := &LobbyStatus{
		QuizStarted: target.Started,
		RoomClosed:  !target.IsActive(),
		Waiting:     make([]WaitingParticipant, 0, len(waiting)),
	}
	for _, participant := range waiting {
		status.Waiting = append(status.Waiting, WaitingParticipant{ID: participant.ID, Name: participant.Name})
	}
	return status, nil
}

// QuizStatus is the quiz-poll response. RemainingSeconds is computed
// server-side from the start timestamp so a mid-quiz refresh reconstructs
// the correct remaining time without trusting any client timer.
type QuizStatus struct {
	Status           string    `json:"status"`
	QuizStarted      bool      `json:"quiz_started"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	ServerTime       time.Time `json:"server_time"`
}

// Status reports the authoritative quiz clock for a room.
func (s *Service) Status(ctx context.Context, code string) (*QuizStatus, error) {
	target, err := s.roomByCode(ctx, code, opQuizStatus)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	remaining := int64(target.DurationSeconds)
	if target.Started && target.StartedAt != nil {
		elapsed := int64(now.Sub(*target.StartedAt) / time.Second)
		remaining = int64(target.DurationSeconds) - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	return &QuizStatus{
		Status:           target.Status,
		QuizStarted:      target.Started,
		RemainingSeconds: remaining,
		ServerTime:       now,
	}, nil
}

// StatsEntry is one ranked leaderboard row.
type StatsEntry struct {
	ParticipantID  string `json:"participant_id"`
	Name           string `json:"name"`
	RollID         string `json:"roll_id"`
	Status         string `json:"status"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// Stats ranks participants by score descending, ties broken by lower
// elapsed time. Elapsed time runs from quiz start to finish for completed
// participants and to their last activity otherwise.
func (s *Service) Stats(ctx context.Context, code string) ([]StatsEntry, error) {
	target, err := s.roomByCode(ctx, code, opLiveStats)
	if err != nil {
		return nil, err
	}

	var participants []session.Participant
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", target.ID).
		Find(&participants).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, opLiveStats, err)
	}

	now := s.clock().UTC()
	entries := make([]StatsEntry, 0, len(participants))
	for _, participant := range participants {
		entries = append(entries, StatsEntry{
			ParticipantID:  participant.ID,
			Name:           participant.Name,
			RollID:         participant.RollID,
			Status:         displayStatus(participant, now),
			Score:          participant.Score,
			TotalQuestions: participant.TotalQuestions,
			ElapsedSeconds: elapsedSeconds(target, participant),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ElapsedSeconds < entries[j].ElapsedSeconds
	})
	return entries, nil
}

// disconnectAfter is how long an active participant can go without a
// heartbeat before the dashboard sees them as disconnected. The stored
// status is never rewritten; the label is derived per read.
const disconnectAfter = 2 * time.Minute

func displayStatus(participant session.Participant, now time.Time) string {
	if participant.Status == session.StatusActive && now.Sub(participant.LastActivityAt) > disconnectAfter {
		return session.StatusDisconnected
	}
	return participant.Status
}

func elapsedSeconds(target *room.Room, participant session.Participant) int64 {
	if !target.Started || target.StartedAt == nil {
		return 0
	}
	end := participant.LastActivityAt
	if participant.FinishedAt != nil {
		end = *participant.FinishedAt
	}
	elapsed := int64(end.Sub(*target.StartedAt) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (s *Service) roomByCode(ctx context.Context, code, op string) (*room.Room, error) {
	var target room.Room
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, op, "room %s not found", code)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	return &target, nil
}
