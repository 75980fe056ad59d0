package synth

import "time"

// Item is one synthesized multiple-choice question as returned by the
// provider, before persistence.
type Item struct {
	Question    string    `json:"question"`
	Options     [4]string `json:"options"`
	CorrectText string    `json:"answer"`
}

// GeneratedQuestion persists a synthesized question for reuse across rooms.
// Rows are append-only; concurrent synthesis for the same topic may produce
// harmless duplicates.
type GeneratedQuestion struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Topic       string    `gorm:"column:topic;size:190;not null;index:idx_ai_topic"`
	Text        string    `gorm:"column:question;type:text;not null"`
	OptionA     string    `gorm:"column:option_a;type:text;not null"`
	OptionB     string    `gorm:"column:option_b;type:text;not null"`
	OptionC     string    `gorm:"column:option_c;type:text;not null"`
	OptionD     string    `gorm:"column:option_d;type:text;not null"`
	CorrectText string    `gorm:"column:correct_text;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (GeneratedQuestion) TableName() string {
	return "ai_questions"
}

// Item converts the stored row back into the wire shape.
func (g GeneratedQuestion) Item() Item {
	return Item{
		Question:    g.Text,
		Options:     [4]string{g.OptionA, g.OptionB, g.OptionC, g.OptionD},
		CorrectText: g.CorrectText,
	}
}
