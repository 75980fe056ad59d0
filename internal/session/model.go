package session

import "time"

// Participant status values. Waiting participants sit in the lobby; the
// start event promotes them to active. Disconnected is never stored: the
// stats read path derives it from a stale last_activity.
const (
	StatusWaiting      = "waiting"
	StatusActive       = "active"
	StatusCompleted    = "completed"
	StatusDisconnected = "disconnected"
)

// Participant is one joined student, bound to exactly one room for its
// lifetime. Leaving hard-deletes the row; rejoining starts over.
type Participant struct {
	ID             string     `gorm:"column:id;primaryKey;size:64"`
	RoomID         uint       `gorm:"column:room_id;not null;index:idx_participants_room"`
	Name           string     `gorm:"column:display_name;size:190;not null"`
	RollID         string     `gorm:"column:roll_id;size:64;not null;default:''"`
	Status         string     `gorm:"column:status;size:16;not null;default:waiting"`
	CurrentIndex   int        `gorm:"column:current_index;not null;default:0"`
	Score          int        `gorm:"column:score;not null;default:0"`
	TotalQuestions int        `gorm:"column:total_questions;not null;default:0"`
	JoinedAt       time.Time  `gorm:"column:joined_at;not null"`
	LastActivityAt time.Time  `gorm:"column:last_activity_at;not null"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
}

// TableName provides the explicit table binding for GORM.
func (Participant) TableName() string {
	return "quiz_participants"
}

// Answer is one participant's latest choice for one snapshot question.
// Unique per (participant, question); resubmission overwrites in place.
type Answer struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ParticipantID string    `gorm:"column:participant_id;size:64;not null;uniqueIndex:idx_answers_participant_question,priority:1"`
	QuestionID    uint      `gorm:"column:question_id;not null;uniqueIndex:idx_answers_participant_question,priority:2"`
	Letter        string    `gorm:"column:letter;size:1;not null"`
	IsCorrect     bool      `gorm:"column:is_correct;not null"`
	AnsweredAt    time.Time `gorm:"column:answered_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Answer) TableName() string {
	return "quiz_answers"
}
