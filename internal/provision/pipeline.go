package provision

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/classdeck/livequiz/backend/internal/apperr"
	"github.com/classdeck/livequiz/backend/internal/bank"
	"github.com/classdeck/livequiz/backend/internal/room"
	"github.com/classdeck/livequiz/backend/internal/synth"
)

const (
	opBuild  = "provision.build"
	opRefill = "provision.refill"
)

// BankSource is the read-only question corpus the pipeline draws from.
type BankSource interface {
	ByIDs(ctx context.Context, ids []uint) ([]bank.Question, error)
	SampleByTopic(ctx context.Context, topic string, limit int, excludeIDs []uint) ([]bank.Question, error)
	SampleByChapter(ctx context.Context, class, book, chapter string, limit int, excludeIDs []uint) ([]bank.Question, error)
	Chapters(ctx context.Context, class, book string) ([]string, error)
}

// GeneratedSource samples previously synthesized questions.
type GeneratedSource interface {
	SampleByTopics(ctx context.Context, topics []string, limit int, excludeTexts []string) ([]synth.Item, error)
}

// Generator synthesizes fresh questions on demand. Implementations never
// return an error: failures degrade the result count instead.
type Generator interface {
	Available() bool
	Generate(ctx context.Context, topic string, count int) []synth.Item
}

// Config wires the pipeline's sources.
type Config struct {
	Bank      BankSource
	Generated GeneratedSource
	Generator Generator
	Logger    *zap.Logger
	Rand      *rand.Rand
}

// Pipeline orchestrates the multi-tier sourcing order into an immutable
// per-room snapshot: explicit selection, custom authored, bank by topic,
// AI cache, live synthesis, then chapter-distributed fallback. Each tier
// fills only the remaining deficit.
type Pipeline struct {
	bank      BankSource
	generated GeneratedSource
	generator Generator
	logger    *zap.Logger
	rand      *rand.Rand
}

// NewPipeline validates configuration and constructs a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Bank == nil {
		return nil, apperr.New(apperr.KindPersistence, "provision.new", "bank source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pipeline{
		bank:      cfg.Bank,
		generated: cfg.Generated,
		generator: cfg.Generator,
		logger:    logger,
		rand:      rng,
	}, nil
}

// CustomQuestion is an author-supplied question. The correct choice is
// named by letter at authoring time and converted to option text for the
// snapshot.
type CustomQuestion struct {
	Text          string
	Options       [4]string
	CorrectLetter string
}

// valid reports whether the question text and all four options are
// non-empty and the correct choice names one of the four letters.
func (q CustomQuestion) valid() (int, bool) {
	if strings.TrimSpace(q.Text) == "" {
		return 0, false
	}
	for _, option := range q.Options {
		if strings.TrimSpace(option) == "" {
			return 0, false
		}
	}
	switch strings.ToUpper(strings.TrimSpace(q.CorrectLetter)) {
	case "A":
		return 0, true
	case "B":
		return 1, true
	case "C":
		return 2, true
	case "D":
		return 3, true
	default:
		return 0, false
	}
}

// Request describes the sourcing inputs for one room.
type Request struct {
	Target      int
	SelectedIDs []uint
	Custom      []CustomQuestion
	Class       string
	Book        string
	Chapters    []string
	Topics      []string
}

func (r Request) topicMode() bool {
	return len(r.Topics) > 0
}

func (r Request) chapterMode() bool {
	return strings.TrimSpace(r.Class) != "" && strings.TrimSpace(r.Book) != ""
}

// Result carries the provisioned questions plus any unresolved deficit.
// A shortfall is surfaced for manual refill, never silently dropped.
type Result struct {
	Questions []room.SnapshotQuestion
	Shortfall int
}

// Build produces max(Target, valid custom count) snapshot questions,
// preferring already-authored content over freshly generated content.
func (p *Pipeline) Build(ctx context.Context, req Request) (*Result, error) {
	custom := make([]room.SnapshotQuestion, 0, len(req.Custom))
	for _, candidate := range req.Custom {
		index, ok := candidate.valid()
		if !ok {
			continue
		}
		custom = append(custom, room.SnapshotQuestion{
			Text:        strings.TrimSpace(candidate.Text),
			Options:     candidate.Options,
			CorrectText: candidate.Options[index],
		})
	}

	if !req.topicMode() && !req.chapterMode() && len(custom) == 0 && len(req.SelectedIDs) == 0 {
		return nil, apperr.New(apperr.KindValidation, opBuild,
			"either topics, a class/book filter, selected ids or custom questions are required")
	}

	target := req.Target
	if len(custom) > target {
		target = len(custom)
	}

	assembly := newAssembly(target)

	// Tier 1: explicitly selected bank ids, verbatim, in request order.
	// Ids beyond the target are dropped so the set never overshoots.
	if len(req.SelectedIDs) > 0 {
		selected, err := p.bank.ByIDs(ctx, req.SelectedIDs)
		if err != nil {
			return nil, err
		}
		for _, question := range selected {
			assembly.addBank(question)
		}
	}

	// Tier 2: valid custom questions.
	for _, question := range custom {
		assembly.add(question)
	}

	// Tier 3: bank sample by exact topic match.
	if req.topicMode() && assembly.deficit() > 0 {
		for _, topic := range req.Topics {
			if assembly.deficit() == 0 {
				break
			}
			sampled, err := p.bank.SampleByTopic(ctx, topic, assembly.deficit(), assembly.usedIDs())
			if err != nil {
				return nil, err
			}
			for _, question := range sampled {
				assembly.addBank(question)
			}
		}
	}

	// Tier 4: previously synthesized questions for the same topics.
	if req.topicMode() && assembly.deficit() > 0 && p.generated != nil {
		cached, err := p.generated.SampleByTopics(ctx, req.Topics, assembly.deficit(), assembly.usedTexts())
		if err != nil {
			return nil, err
		}
		for _, item := range cached {
			assembly.addItem(item)
		}
	}

	// Tier 5: live synthesis, topics shuffled, each round requesting an
	// even share of what is still missing. Synthesis failures degrade the
	// count rather than aborting the build.
	if req.topicMode() && assembly.deficit() > 0 {
		p.synthesize(ctx, req.Topics, assembly)
	}

	// Tier 6: chapter-distributed fallback when filtering by class/book.
	if !req.topicMode() && req.chapterMode() && assembly.deficit() > 0 {
		if err := p.fillFromChapters(ctx, req, assembly); err != nil {
			return nil, err
		}
	}

	// Final shuffle removes tier-ordering bias from the display order.
	questions := assembly.questions
	p.rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	shortfall := assembly.deficit()
	if shortfall > 0 {
		p.logger.Warn("provisioning shortfall",
			zap.Int("target", target), zap.Int("missing", shortfall))
	}
	return &Result{Questions: questions, Shortfall: shortfall}, nil
}

// Refill reruns the topic tiers (bank, AI cache, live synthesis) for one
// topic against an existing room, excluding already-snapshotted text.
func (p *Pipeline) Refill(ctx context.Context, topic string, count int, existingTexts []string) (*Result, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, apperr.New(apperr.KindValidation, opRefill, "topic is required")
	}
	if count <= 0 {
		return nil, apperr.New(apperr.KindValidation, opRefill, "count must be positive")
	}

	assembly := newAssembly(count)
	for _, text := range existingTexts {
		assembly.exclude(text)
	}

	sampled, err := p.bank.SampleByTopic(ctx, topic, assembly.deficit(), nil)
	if err != nil {
		return nil, err
	}
	for _, question := range sampled {
		assembly.addBank(question)
	}

	if assembly.deficit() > 0 && p.generated != nil {
		cached, err := p.generated.SampleByTopics(ctx, []string{topic}, assembly.deficit(), assembly.usedTexts())
		if err != nil {
			return nil, err
		}
		for _, item := range cached {
			assembly.addItem(item)
		}
	}

	if assembly.deficit() > 0 {
		p.synthesize(ctx, []string{topic}, assembly)
	}

	return &Result{Questions: assembly.questions, Shortfall: assembly.deficit()}, nil
}

// synthesize walks the shuffled topic list, asking each remaining topic for
// an even share of the outstanding deficit.
func (p *Pipeline) synthesize(ctx context.Context, topics []string, assembly *assembly) {
	if p.generator == nil || !p.generator.Available() {
		p.logger.Warn("generator unavailable, skipping synthesis tier")
		return
	}

	shuffled := append([]string(nil), topics...)
	p.rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for index, topic := range shuffled {
		deficit := assembly.deficit()
		if deficit == 0 {
			return
		}
		topicsLeft := len(shuffled) - index
		perTopic := (deficit + topicsLeft - 1) / topicsLeft
		for _, item := range p.generator.Generate(ctx, topic, perTopic) {
			assembly.addItem(item)
		}
	}
}

func (p *Pipeline) fillFromChapters(ctx context.Context, req Request, assembly *assembly) error {
	chapters := req.Chapters
	if len(chapters) == 0 {
		enumerated, err := p.bank.Chapters(ctx, req.Class, req.Book)
		if err != nil {
			return err
		}
		chapters = enumerated
	}
	if len(chapters) == 0 {
		return nil
	}

	deficit := assembly.deficit()
	base := deficit / len(chapters)
	remainder := deficit % len(chapters)
	for index, chapter := range chapters {
		if assembly.deficit() == 0 {
			return nil
		}
		share := base
		if index < remainder {
			share++
		}
		if share == 0 {
			continue
		}
		sampled, err := p.bank.SampleByChapter(ctx, req.Class, req.Book, chapter, share, assembly.usedIDs())
		if err != nil {
			return err
		}
		for _, question := range sampled {
			assembly.addBank(question)
		}
	}

	// A second pass over the chapters absorbs shares that a sparse chapter
	// could not fill.
	for _, chapter := range chapters {
		if assembly.deficit() == 0 {
			return nil
		}
		sampled, err := p.bank.SampleByChapter(ctx, req.Class, req.Book, chapter, assembly.deficit(), assembly.usedIDs())
		if err != nil {
			return err
		}
		for _, question := range sampled {
			assembly.addBank(question)
		}
	}
	return nil
}

// assembly accumulates snapshot questions, refusing additions once the
// target is met and tracking the ids/texts already used for exclusion in
// later tiers.
type assembly struct {
	target    int
	questions []room.SnapshotQuestion
	ids       map[uint]struct{}
	texts     map[string]struct{}
}

func newAssembly(target int) *assembly {
	return &assembly{
		target:    target,
		questions: make([]room.SnapshotQuestion, 0, target),
		ids:       make(map[uint]struct{}),
		texts:     make(map[string]struct{}),
	}
}

func (a *assembly) deficit() int {
	d := a.target - len(a.questions)
	if d < 0 {
		return 0
	}
	return d
}

func (a *assembly) exclude(text string) {
	a.texts[strings.TrimSpace(text)] = struct{}{}
}

func (a *assembly) add(question room.SnapshotQuestion) bool {
	key := strings.TrimSpace(question.Text)
	if _, seen := a.texts[key]; seen {
		return false
	}
	if a.deficit() == 0 {
		return false
	}
	a.texts[key] = struct{}{}
	a.questions = append(a.questions, question)
	return true
}

func (a *assembly) addBank(question bank.Question) {
	added := a.add(room.SnapshotQuestion{
		Text:        question.Text,
		Options:     question.Options(),
		CorrectText: question.CorrectText,
	})
	if added {
		a.ids[question.ID] = struct{}{}
	}
}

func (a *assembly) addItem(item synth.Item) {
	a.add(room.SnapshotQuestion{
		Text:        item.Question,
		Options:     item.Options,
		CorrectText: item.CorrectText,
	})
}

func (a *assembly) usedIDs() []uint {
	ids := make([]uint, 0, len(a.ids))
	for id := range a.ids {
		ids = append(ids, id)
	}
	return ids
}

func (a *assembly) usedTexts() []string {
	texts := make([]string, 0, len(a.texts))
	for text := range a.texts {
		texts = append(texts, text)
	}
	return texts
}
