package bank

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classdeck/livequiz/backend/internal/apperr"
)

const (
	opByIDs           = "bank.by_ids"
	opSampleByTopic   = "bank.sample_by_topic"
	opSampleByChapter = "bank.sample_by_chapter"
	opChapters        = "bank.chapters"
)

var errMissingDatabase = errors.New("database handle is required")

// Adapter is a read-only facade over the question corpus.
type Adapter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAdapter constructs an Adapter over the shared database handle.
func NewAdapter(db *gorm.DB, logger *zap.Logger) (*Adapter, error) {
	if db == nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "bank.new", errMissingDatabase)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{db: db, logger: logger}, nil
}

// ByIDs resolves explicitly selected question ids verbatim. Unknown ids are
// skipped; the caller decides whether the resulting count is sufficient.
func (a *Adapter) ByIDs(ctx context.Context, ids []uint) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []Question
	if err := a.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		a.logger.Error("bank lookup by ids failed", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistence, opByIDs, err)
	}
	return orderByRequest(questions, ids), nil
}

// SampleByTopic draws up to limit random questions matching the topic
// exactly, excluding the provided ids.
func (a *Adapter) SampleByTopic(ctx context.Context, topic string, limit int, excludeIDs []uint) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := a.db.WithContext(ctx).Where("topic = ?", topic)
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}
	var questions []Question
	if err := query.Order("RANDOM()").Limit(limit).Find(&questions).Error; err != nil {
		a.logger.Error("bank sample by topic failed", zap.String("topic", topic), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistence, opSampleByTopic, err)
	}
	return questions, nil
}

// SampleByChapter draws up to limit random questions for one chapter of a
// class/book, excluding the provided ids.
func (a *Adapter) SampleByChapter(ctx context.Context, class, book, chapter string, limit int, excludeIDs []uint) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := a.db.WithContext(ctx).
		Where("class = ? AND book = ? AND chapter = ?", class, book, chapter)
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}
	var questions []Question
	if err := query.Order("RANDOM()").Limit(limit).Find(&questions).Error; err != nil {
		a.logger.Error("bank sample by chapter failed",
			zap.String("class", class), zap.String("book", book), zap.String("chapter", chapter), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistence, opSampleByChapter, err)
	}
	return questions, nil
}

// Chapters enumerates the distinct chapters stored for a class/book.
func (a *Adapter) Chapters(ctx context.Context, class, book string) ([]string, error) {
	var chapters []string
	err := a.db.WithContext(ctx).
		Model(&Question{}).
		Where("class = ? AND book = ?", class, book).
		Distinct("chapter").
		Order("chapter ASC").
		Pluck("chapter", &chapters).Error
	if err != nil {
		a.logger.Error("bank chapter enumeration failed",
			zap.String("class", class), zap.String("book", book), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistence, opChapters, err)
	}
	return chapters, nil
}

// orderByRequest restores the caller's id order after an unordered IN query.
func orderByRequest(questions []Question, ids []uint) []Question {
	byID := make(map[uint]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	ordered := make([]Question, 0, len(questions))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered
}
