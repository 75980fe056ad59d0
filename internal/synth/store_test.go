package synth

import (
	"context"
	"testing"
)

func TestSampleByTopicsExcludesUsedTexts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	items := []Item{
		{Question: "Used question", Options: [4]string{"a", "b", "c", "d"}, CorrectText: "a"},
		{Question: "Fresh question", Options: [4]string{"a", "b", "c", "d"}, CorrectText: "b"},
	}
	if err := store.Append(ctx, "Photosynthesis", items); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	sampled, err := store.SampleByTopics(ctx, []string{"Photosynthesis"}, 5, []string{"Used question"})
	if err != nil {
		t.Fatalf("failed to sample: %v", err)
	}
	if len(sampled) != 1 {
		t.Fatalf("expected 1 sampled item, got %d", len(sampled))
	}
	if sampled[0].Question != "Fresh question" {
		t.Fatalf("unexpected sampled question %q", sampled[0].Question)
	}
}

func TestSampleByTopicsScopesTopics(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "Photosynthesis", []Item{
		{Question: "On topic", Options: [4]string{"a", "b", "c", "d"}, CorrectText: "a"},
	}); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := store.Append(ctx, "Respiration", []Item{
		{Question: "Off topic", Options: [4]string{"a", "b", "c", "d"}, CorrectText: "a"},
	}); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	sampled, err := store.SampleByTopics(ctx, []string{"Photosynthesis"}, 5, nil)
	if err != nil {
		t.Fatalf("failed to sample: %v", err)
	}
	if len(sampled) != 1 || sampled[0].Question != "On topic" {
		t.Fatalf("expected only on-topic question, got %+v", sampled)
	}
}

func TestSampleByTopicsWithoutTopics(t *testing.T) {
	store, _ := newTestStore(t)

	sampled, err := store.SampleByTopics(context.Background(), nil, 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sampled != nil {
		t.Fatalf("expected nil without topics, got %d items", len(sampled))
	}
}
