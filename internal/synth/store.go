package synth

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classdeck/livequiz/backend/internal/apperr"
)

const (
	opStoreAppend = "synth.store.append"
	opStoreSample = "synth.store.sample"
)

// Store persists synthesized questions for reuse. Writes are append-only.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore constructs a Store over the shared database handle.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, apperr.New(apperr.KindPersistence, "synth.store.new", "database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

// Append persists the items under the topic. Failures are returned so the
// caller can decide whether the unpersisted items are still usable.
func (s *Store) Append(ctx context.Context, topic string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]GeneratedQuestion, 0, len(items))
	for _, item := range items {
		rows = append(rows, GeneratedQuestion{
			Topic:       topic,
			Text:        item.Question,
			OptionA:     item.Options[0],
			OptionB:     item.Options[1],
			OptionC:     item.Options[2],
			OptionD:     item.Options[3],
			CorrectText: item.CorrectText,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		s.logger.Error("ai question append failed", zap.String("topic", topic), zap.Error(err))
		return apperr.Wrap(apperr.KindPersistence, opStoreAppend, err)
	}
	return nil
}

// SampleByTopics draws up to limit random cached questions for any of the
// topics, excluding questions whose text already appears in excludeTexts.
func (s *Store) SampleByTopics(ctx context.Context, topics []string, limit int, excludeTexts []string) ([]Item, error) {
	if limit <= 0 || len(topics) == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("topic IN ?", topics)
	if len(excludeTexts) > 0 {
		query = query.Where("question NOT IN ?", excludeTexts)
	}
	var rows []GeneratedQuestion
	if err := query.Order("RANDOM()").Limit(limit).Find(&rows).Error; err != nil {
		s.logger.Error("ai question sample failed", zap.Strings("topics", topics), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistence, opStoreSample, err)
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Item())
	}
	return items, nil
}
