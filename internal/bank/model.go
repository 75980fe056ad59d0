package bank

// Question models one pre-authored multiple-choice question in the
// externally maintained corpus. The engine only ever reads this table.
type Question struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Class       string `gorm:"column:class;size:64;not null;index:idx_bank_class_book,priority:1"`
	Book        string `gorm:"column:book;size:190;not null;index:idx_bank_class_book,priority:2"`
	Chapter     string `gorm:"column:chapter;size:190;not null;index:idx_bank_class_book,priority:3"`
	Topic       string `gorm:"column:topic;size:190;not null;index:idx_bank_topic"`
	Text        string `gorm:"column:question;type:text;not null"`
	OptionA     string `gorm:"column:option_a;type:text;not null"`
	OptionB     string `gorm:"column:option_b;type:text;not null"`
	OptionC     string `gorm:"column:option_c;type:text;not null"`
	OptionD     string `gorm:"column:option_d;type:text;not null"`
	CorrectText string `gorm:"column:correct_text;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "bank_questions"
}

// Options returns the four choices in letter order.
func (q Question) Options() [4]string {
	return [4]string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}
