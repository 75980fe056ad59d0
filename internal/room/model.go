package room

import "time"

// Status enumerates room lifecycle states. The started flag is tracked
// independently: closing a room does not reset it.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Event types recorded in the append-only audit feed. The feed is never
// replayed to reconstruct state.
const (
	EventJoined      = "joined"
	EventLeft        = "left"
	EventQuizStarted = "quiz_started"
	EventAnswered    = "answered"
	EventCompleted   = "completed"
)

// Room is one instructor-created live-quiz session.
type Room struct {
	ID              uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Code            string     `gorm:"column:code;size:12;not null;uniqueIndex:idx_rooms_code"`
	OwnerID         string     `gorm:"column:owner_id;size:190;not null;index:idx_rooms_owner"`
	QuestionCount   int        `gorm:"column:question_count;not null"`
	DurationSeconds int        `gorm:"column:duration_s;not null"`
	Started         bool       `gorm:"column:started;not null;default:false"`
	StartedAt       *time.Time `gorm:"column:started_at"`
	Status          string     `gorm:"column:status;size:16;not null;default:active"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "quiz_rooms"
}

// IsActive reports whether the room currently accepts joins and writes.
func (r Room) IsActive() bool {
	return r.Status == StatusActive
}

// QuestionSnapshot is one frozen question assigned to a room, decoupled from
// the mutable bank. Immutable once the room has started.
type QuestionSnapshot struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	RoomID      uint   `gorm:"column:room_id;not null;index:idx_snapshots_room"`
	Text        string `gorm:"column:question;type:text;not null"`
	OptionA     string `gorm:"column:option_a;type:text;not null"`
	OptionB     string `gorm:"column:option_b;type:text;not null"`
	OptionC     string `gorm:"column:option_c;type:text;not null"`
	OptionD     string `gorm:"column:option_d;type:text;not null"`
	CorrectText string `gorm:"column:correct_text;type:text;not null"`
	Position    int    `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (QuestionSnapshot) TableName() string {
	return "room_questions"
}

// Options returns the four choices in letter order.
func (s QuestionSnapshot) Options() [4]string {
	return [4]string{s.OptionA, s.OptionB, s.OptionC, s.OptionD}
}

// OptionAt returns the option text for an answer letter (A-D).
func (s QuestionSnapshot) OptionAt(letter string) (string, bool) {
	switch letter {
	case "A":
		return s.OptionA, true
	case "B":
		return s.OptionB, true
	case "C":
		return s.OptionC, true
	case "D":
		return s.OptionD, true
	default:
		return "", false
	}
}

// Event is one row of the append-only audit feed.
type Event struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	RoomID        uint      `gorm:"column:room_id;not null;index:idx_events_room"`
	ParticipantID *string   `gorm:"column:participant_id;size:64"`
	Type          string    `gorm:"column:event_type;size:32;not null"`
	PayloadJSON   string    `gorm:"column:payload_json;type:text;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "room_events"
}

// SnapshotQuestion is the input shape used when building a room's snapshot.
type SnapshotQuestion struct {
	Text        string
	Options     [4]string
	CorrectText string
}
