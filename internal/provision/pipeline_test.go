package provision

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/classdeck/livequiz/backend/internal/apperr"
	"github.com/classdeck/livequiz/backend/internal/bank"
	"github.com/classdeck/livequiz/backend/internal/synth"
)

// stubBank answers tier queries from canned slices and records which tiers
// were consulted.
type stubBank struct {
	byID        map[uint]bank.Question
	byTopic     map[string][]bank.Question
	byChapter   map[string][]bank.Question
	chapters    []string
	topicCalls  []string
	idCalls     [][]uint
	chapterHits []string
}

func (s *stubBank) ByIDs(_ context.Context, ids []uint) ([]bank.Question, error) {
	s.idCalls = append(s.idCalls, ids)
	questions := make([]bank.Question, 0, len(ids))
	for _, id := range ids {
		if question, ok := s.byID[id]; ok {
			questions = append(questions, question)
		}
	}
	return questions, nil
}

func (s *stubBank) SampleByTopic(_ context.Context, topic string, limit int, excludeIDs []uint) ([]bank.Question, error) {
	s.topicCalls = append(s.topicCalls, topic)
	excluded := make(map[uint]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	var sampled []bank.Question
	for _, question := range s.byTopic[topic] {
		if _, skip := excluded[question.ID]; skip {
			continue
		}
		if len(sampled) == limit {
			break
		}
		sampled = append(sampled, question)
	}
	return sampled, nil
}

func (s *stubBank) SampleByChapter(_ context.Context, _, _, chapter string, limit int, excludeIDs []uint) ([]bank.Question, error) {
	s.chapterHits = append(s.chapterHits, chapter)
	excluded := make(map[uint]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	var sampled []bank.Question
	for _, question := range s.byChapter[chapter] {
		if _, skip := excluded[question.ID]; skip {
			continue
		}
		if len(sampled) == limit {
			break
		}
		sampled = append(sampled, question)
	}
	return sampled, nil
}

func (s *stubBank) Chapters(_ context.Context, _, _ string) ([]string, error) {
	return s.chapters, nil
}

type stubGenerated struct {
	items []synth.Item
	calls int
}

func (s *stubGenerated) SampleByTopics(_ context.Context, _ []string, limit int, excludeTexts []string) ([]synth.Item, error) {
	s.calls++
	excluded := make(map[string]struct{}, len(excludeTexts))
	for _, text := range excludeTexts {
		excluded[text] = struct{}{}
	}
	var sampled []synth.Item
	for _, item := range s.items {
		if _, skip := excluded[item.Question]; skip {
			continue
		}
		if len(sampled) == limit {
			break
		}
		sampled = append(sampled, item)
	}
	return sampled, nil
}

type stubGenerator struct {
	available bool
	perTopic  map[string][]synth.Item
	requests  []generateRequest
}

type generateRequest struct {
	Topic string
	Count int
}

func (s *stubGenerator) Available() bool { return s.available }

func (s *stubGenerator) Generate(_ context.Context, topic string, count int) []synth.Item {
	s.requests = append(s.requests, generateRequest{Topic: topic, Count: count})
	items := s.perTopic[topic]
	if len(items) > count {
		items = items[:count]
	}
	return items
}

func bankQuestion(id uint, topic, text string) bank.Question {
	return bank.Question{
		ID:          id,
		Topic:       topic,
		Text:        text,
		OptionA:     "a",
		OptionB:     "b",
		OptionC:     "c",
		OptionD:     "d",
		CorrectText: "a",
	}
}

func synthItem(text string) synth.Item {
	return synth.Item{Question: text, Options: [4]string{"a", "b", "c", "d"}, CorrectText: "a"}
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()

	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to construct pipeline: %v", err)
	}
	return pipeline
}

func validCustom(text string) CustomQuestion {
	return CustomQuestion{Text: text, Options: [4]string{"a", "b", "c", "d"}, CorrectLetter: "B"}
}

func questionTexts(result *Result) map[string]bool {
	texts := make(map[string]bool, len(result.Questions))
	for _, question := range result.Questions {
		texts[question.Text] = true
	}
	return texts
}

func TestBuildRejectsEmptyRequest(t *testing.T) {
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}})

	_, err := pipeline.Build(context.Background(), Request{Target: 5})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation kind, got %v", apperr.KindOf(err))
	}
}

func TestBuildCustomOnlyWithoutTarget(t *testing.T) {
	source := &stubBank{}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{
		Custom: []CustomQuestion{validCustom("first"), validCustom("second")},
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 2 || result.Shortfall != 0 {
		t.Fatalf("expected 2 questions with no shortfall, got %d/%d", len(result.Questions), result.Shortfall)
	}
	if len(source.topicCalls) != 0 || len(source.chapterHits) != 0 {
		t.Fatalf("custom-only build must not consult sampling tiers")
	}
}

func TestBuildTargetExpandsToCustomCount(t *testing.T) {
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}})

	result, err := pipeline.Build(context.Background(), Request{
		Target: 1,
		Custom: []CustomQuestion{validCustom("first"), validCustom("second"), validCustom("third")},
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 3 {
		t.Fatalf("expected all 3 customs despite target 1, got %d", len(result.Questions))
	}
}

func TestBuildSkipsInvalidCustoms(t *testing.T) {
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}})

	result, err := pipeline.Build(context.Background(), Request{
		Custom: []CustomQuestion{
			validCustom("kept"),
			{Text: "", Options: [4]string{"a", "b", "c", "d"}, CorrectLetter: "A"},
			{Text: "blank option", Options: [4]string{"a", "", "c", "d"}, CorrectLetter: "A"},
			{Text: "bad letter", Options: [4]string{"a", "b", "c", "d"}, CorrectLetter: "E"},
			{Text: "empty letter", Options: [4]string{"a", "b", "c", "d"}, CorrectLetter: ""},
		},
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 1 || result.Questions[0].Text != "kept" {
		t.Fatalf("expected only the valid custom, got %+v", result.Questions)
	}
}

func TestBuildCustomCorrectLetterResolvesToText(t *testing.T) {
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}})

	result, err := pipeline.Build(context.Background(), Request{
		Custom: []CustomQuestion{{
			Text:          "pick",
			Options:       [4]string{"alpha", "beta", "gamma", "delta"},
			CorrectLetter: "c",
		}},
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if result.Questions[0].CorrectText != "gamma" {
		t.Fatalf("expected letter c to resolve to gamma, got %q", result.Questions[0].CorrectText)
	}
}

func TestBuildSelectedIDsVerbatim(t *testing.T) {
	source := &stubBank{byID: map[uint]bank.Question{
		7: bankQuestion(7, "t", "seventh"),
		3: bankQuestion(3, "t", "third"),
	}}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{Target: 2, SelectedIDs: []uint{7, 3, 99}})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	texts := questionTexts(result)
	if !texts["seventh"] || !texts["third"] {
		t.Fatalf("expected both selected questions, got %v", texts)
	}
	if result.Shortfall != 0 {
		t.Fatalf("unexpected shortfall %d", result.Shortfall)
	}
}

func TestBuildCapsSelectedIDsAtTarget(t *testing.T) {
	source := &stubBank{byID: map[uint]bank.Question{
		1: bankQuestion(1, "t", "first"),
		2: bankQuestion(2, "t", "second"),
		3: bankQuestion(3, "t", "third"),
		4: bankQuestion(4, "t", "fourth"),
		5: bankQuestion(5, "t", "fifth"),
	}}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{Target: 3, SelectedIDs: []uint{1, 2, 3, 4, 5}})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 3 {
		t.Fatalf("expected exactly 3 questions, got %d", len(result.Questions))
	}
	for i, want := range []string{"first", "second", "third"} {
		if result.Questions[i].Text != want {
			t.Fatalf("question %d: expected %q, got %q", i, want, result.Questions[i].Text)
		}
	}
	if result.Shortfall != 0 {
		t.Fatalf("unexpected shortfall %d", result.Shortfall)
	}
}

func TestBuildCustomsShareCapWithSelectedIDs(t *testing.T) {
	source := &stubBank{byID: map[uint]bank.Question{
		1: bankQuestion(1, "t", "first"),
		2: bankQuestion(2, "t", "second"),
	}}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{
		Target:      3,
		SelectedIDs: []uint{1, 2},
		Custom:      []CustomQuestion{validCustom("handmade one"), validCustom("handmade two")},
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 3 {
		t.Fatalf("expected exactly 3 questions, got %d", len(result.Questions))
	}
	texts := questionTexts(result)
	if !texts["first"] || !texts["second"] || !texts["handmade one"] {
		t.Fatalf("expected selected ids then first custom, got %v", texts)
	}
}

func TestBuildTopicTiersInOrder(t *testing.T) {
	source := &stubBank{byTopic: map[string][]bank.Question{
		"Photosynthesis": {bankQuestion(1, "Photosynthesis", "bank question")},
	}}
	generated := &stubGenerated{}
	generator := &stubGenerator{available: true, perTopic: map[string][]synth.Item{
		"Photosynthesis": {synthItem("fresh one"), synthItem("fresh two")},
	}}
	pipeline := newTestPipeline(t, Config{Bank: source, Generated: generated, Generator: generator})

	result, err := pipeline.Build(context.Background(), Request{Target: 3, Topics: []string{"Photosynthesis"}})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 3 || result.Shortfall != 0 {
		t.Fatalf("expected 3 questions with no shortfall, got %d/%d", len(result.Questions), result.Shortfall)
	}
	texts := questionTexts(result)
	for _, expected := range []string{"bank question", "fresh one", "fresh two"} {
		if !texts[expected] {
			t.Fatalf("missing %q in %v", expected, texts)
		}
	}
	if generated.calls != 1 {
		t.Fatalf("expected one cached-sample call, got %d", generated.calls)
	}
	if len(generator.requests) != 1 || generator.requests[0].Count != 2 {
		t.Fatalf("expected one synthesis request for the deficit of 2, got %+v", generator.requests)
	}
}

func TestBuildSkipsLowerTiersWhenSatisfied(t *testing.T) {
	source := &stubBank{byTopic: map[string][]bank.Question{
		"Photosynthesis": {
			bankQuestion(1, "Photosynthesis", "one"),
			bankQuestion(2, "Photosynthesis", "two"),
		},
	}}
	generated := &stubGenerated{items: []synth.Item{synthItem("cached")}}
	generator := &stubGenerator{available: true}
	pipeline := newTestPipeline(t, Config{Bank: source, Generated: generated, Generator: generator})

	result, err := pipeline.Build(context.Background(), Request{Target: 2, Topics: []string{"Photosynthesis"}})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(result.Questions))
	}
	if generated.calls != 0 {
		t.Fatalf("cached tier consulted without a deficit")
	}
	if len(generator.requests) != 0 {
		t.Fatalf("synthesis tier consulted without a deficit")
	}
}

func TestBuildSpreadsSynthesisAcrossTopics(t *testing.T) {
	source := &stubBank{}
	generator := &stubGenerator{available: true, perTopic: map[string][]synth.Item{
		"alpha": {synthItem("alpha one"), synthItem("alpha two")},
		"beta":  {synthItem("beta one"), synthItem("beta two")},
	}}
	pipeline := newTestPipeline(t, Config{Bank: source, Generator: generator})

	result, err := pipeline.Build(context.Background(), Request{Target: 4, Topics: []string{"alpha", "beta"}})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 4 || result.Shortfall != 0 {
		t.Fatalf("expected 4 questions with no shortfall, got %d/%d", len(result.Questions), result.Shortfall)
	}
	if len(generator.requests) != 2 {
		t.Fatalf("expected both topics consulted, got %+v", generator.requests)
	}
	for _, request := range generator.requests {
		if request.Count != 2 {
			t.Fatalf("expected an even share of 2 per topic, got %+v", generator.requests)
		}
	}
}

func TestBuildSurfacesShortfall(t *testing.T) {
	source := &stubBank{byTopic: map[string][]bank.Question{
		"Photosynthesis": {bankQuestion(1, "Photosynthesis", "only one")},
	}}
	pipeline := newTestPipeline(t, Config{Bank: source, Generator: &stubGenerator{available: false}})

	result, err := pipeline.Build(context.Background(), Request{Target: 5, Topics: []string{"Photosynthesis"}})
	if err != nil {
		t.Fatalf("shortfall must not fail the build: %v", err)
	}
	if len(result.Questions) != 1 || result.Shortfall != 4 {
		t.Fatalf("expected 1 question and shortfall 4, got %d/%d", len(result.Questions), result.Shortfall)
	}
}

func TestBuildChapterFallbackDistributesEvenly(t *testing.T) {
	source := &stubBank{
		chapters: []string{"ch1", "ch2"},
		byChapter: map[string][]bank.Question{
			"ch1": {bankQuestion(1, "", "c1 q1"), bankQuestion(2, "", "c1 q2")},
			"ch2": {bankQuestion(3, "", "c2 q1"), bankQuestion(4, "", "c2 q2")},
		},
	}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{Target: 3, Class: "10", Book: "Science"})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 3 || result.Shortfall != 0 {
		t.Fatalf("expected 3 questions with no shortfall, got %d/%d", len(result.Questions), result.Shortfall)
	}
	texts := questionTexts(result)
	if !texts["c1 q1"] || !texts["c1 q2"] || !texts["c2 q1"] {
		t.Fatalf("expected a 2/1 split across chapters, got %v", texts)
	}
}

func TestBuildChapterFallbackAbsorbsSparseChapters(t *testing.T) {
	source := &stubBank{
		chapters: []string{"sparse", "rich"},
		byChapter: map[string][]bank.Question{
			"sparse": {bankQuestion(1, "", "sparse q1")},
			"rich": {
				bankQuestion(2, "", "rich q1"),
				bankQuestion(3, "", "rich q2"),
				bankQuestion(4, "", "rich q3"),
			},
		},
	}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{Target: 4, Class: "10", Book: "Science"})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 4 || result.Shortfall != 0 {
		t.Fatalf("expected the rich chapter to absorb the sparse deficit, got %d/%d",
			len(result.Questions), result.Shortfall)
	}
}

func TestBuildDeduplicatesAcrossTiers(t *testing.T) {
	source := &stubBank{byTopic: map[string][]bank.Question{
		"Photosynthesis": {bankQuestion(1, "Photosynthesis", "shared text")},
	}}
	generated := &stubGenerated{items: []synth.Item{synthItem("shared text"), synthItem("unique text")}}
	pipeline := newTestPipeline(t, Config{Bank: source, Generated: generated})

	result, err := pipeline.Build(context.Background(), Request{Target: 2, Topics: []string{"Photosynthesis"}})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	texts := questionTexts(result)
	if len(result.Questions) != 2 || !texts["shared text"] || !texts["unique text"] {
		t.Fatalf("expected duplicate text collapsed, got %v", texts)
	}
}

func TestRefillValidation(t *testing.T) {
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}})

	if _, err := pipeline.Refill(context.Background(), "", 3, nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for empty topic, got %v", err)
	}
	if _, err := pipeline.Refill(context.Background(), "Photosynthesis", 0, nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for zero count, got %v", err)
	}
}

func TestRefillExcludesExistingTexts(t *testing.T) {
	source := &stubBank{byTopic: map[string][]bank.Question{
		"Photosynthesis": {
			bankQuestion(1, "Photosynthesis", "already snapshotted"),
			bankQuestion(2, "Photosynthesis", "new bank question"),
		},
	}}
	generated := &stubGenerated{items: []synth.Item{synthItem("cached question")}}
	pipeline := newTestPipeline(t, Config{Bank: source, Generated: generated})

	result, err := pipeline.Refill(context.Background(), "Photosynthesis", 2, []string{"already snapshotted"})
	if err != nil {
		t.Fatalf("failed to refill: %v", err)
	}
	if len(result.Questions) != 2 || result.Shortfall != 0 {
		t.Fatalf("expected 2 fresh questions, got %d/%d", len(result.Questions), result.Shortfall)
	}
	texts := questionTexts(result)
	if texts["already snapshotted"] {
		t.Fatalf("refill must not repeat snapshotted text")
	}
	if !texts["new bank question"] || !texts["cached question"] {
		t.Fatalf("unexpected refill contents %v", texts)
	}
}

func TestRefillReportsShortfall(t *testing.T) {
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}, Generator: &stubGenerator{available: false}})

	result, err := pipeline.Refill(context.Background(), "Photosynthesis", 3, nil)
	if err != nil {
		t.Fatalf("shortfall must not fail the refill: %v", err)
	}
	if len(result.Questions) != 0 || result.Shortfall != 3 {
		t.Fatalf("expected empty result with shortfall 3, got %d/%d", len(result.Questions), result.Shortfall)
	}
}

func TestBuildSamplingExcludesSelectedIDs(t *testing.T) {
	selected := bankQuestion(1, "Photosynthesis", "picked by hand")
	source := &stubBank{
		byID: map[uint]bank.Question{1: selected},
		byTopic: map[string][]bank.Question{
			"Photosynthesis": {
				selected,
				bankQuestion(2, "Photosynthesis", "sampled"),
			},
		},
	}
	pipeline := newTestPipeline(t, Config{Bank: source})

	result, err := pipeline.Build(context.Background(), Request{
		Target:      2,
		SelectedIDs: []uint{1},
		Topics:      []string{"Photosynthesis"},
	})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	texts := questionTexts(result)
	if len(result.Questions) != 2 || !texts["picked by hand"] || !texts["sampled"] {
		t.Fatalf("expected selected id excluded from sampling, got %v", texts)
	}
}

func TestBuildManyTopicsStayDistinct(t *testing.T) {
	perTopic := make(map[string][]synth.Item)
	topics := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		topic := fmt.Sprintf("topic-%d", i)
		topics = append(topics, topic)
		perTopic[topic] = []synth.Item{synthItem(topic + " question")}
	}
	generator := &stubGenerator{available: true, perTopic: perTopic}
	pipeline := newTestPipeline(t, Config{Bank: &stubBank{}, Generator: generator})

	result, err := pipeline.Build(context.Background(), Request{Target: 5, Topics: topics})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	if len(result.Questions) != 5 || result.Shortfall != 0 {
		t.Fatalf("expected every topic to contribute, got %d/%d", len(result.Questions), result.Shortfall)
	}
}
