package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fingenie/fingenie/internal/gemini"
	"github.com/fingenie/fingenie/internal/intent"
	"github.com/fingenie/fingenie/internal/news"
	"github.com/fingenie/fingenie/internal/storage"
)

type fakeGenerator struct {
	configured bool
	fail       bool
	reply      string

	lastPrompt  string
	lastHistory []gemini.Message
}

func (f *fakeGenerator) Configured() bool { return f.configured }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, history []gemini.Message, cfg gemini.GenerationConfig) (string, error) {
	f.lastPrompt = prompt
	f.lastHistory = history
	if f.fail {
		return "", gemini.ErrUnavailable
	}
	return f.reply, nil
}

type fakeStore struct {
	turns map[string][]storage.Turn
	fail  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: make(map[string][]storage.Turn)}
}

func (f *fakeStore) AppendTurn(userID string, turn storage.Turn) error {
	if f.fail {
		return errors.New("store down")
	}
	f.turns[userID] = append(f.turns[userID], turn)
	return nil
}

func (f *fakeStore) RecentTurns(userID string, n int) ([]storage.Turn, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	all := f.turns[userID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

type fakeCounter struct{ n int }

func (f fakeCounter) Count() (int, error) { return f.n, nil }

type fakeHeadlines struct {
	articles []news.Article
	fail     bool
}

func (f *fakeHeadlines) Search(ctx context.Context, query string, limit int, category string) ([]news.Article, error) {
	if f.fail {
		return nil, news.ErrUnavailable
	}
	return f.articles, nil
}

type staticAssembler struct{ block string }

func (s staticAssembler) Assemble(ctx context.Context, query string, cls intent.Classification, window []storage.Turn) string {
	return s.block
}

func newTestOrchestrator(gen Generator) (*Orchestrator, *fakeStore) {
	store := newFakeStore()
	o := New(intent.NewClassifier(nil), staticAssembler{}, gen, store, fakeCounter{n: 10}, nil)
	o.RelatedNewsProbability = 0
	return o, store
}

func TestRespondCannedWithoutGenerator(t *testing.T) {
	o, store := newTestOrchestrator(nil)

	got, err := o.Respond(context.Background(), "u1", "Hello there")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.State != StateFallbackCanned {
		t.Errorf("State = %q, want fallback_canned", got.State)
	}
	if got.Intent != intent.IntentGreeting {
		t.Errorf("Intent = %q, want greeting", got.Intent)
	}
	want := cannedResponse(intent.Classification{Intent: intent.IntentGreeting}, nil)
	if got.Text != want {
		t.Errorf("Text = %q, want the curated greeting", got.Text)
	}
	if len(store.turns["u1"]) != 2 {
		t.Errorf("stored %d turns, want 2", len(store.turns["u1"]))
	}
}

func TestRespondCannedWhenGenerationFails(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeGenerator{configured: true, fail: true})

	got, err := o.Respond(context.Background(), "u1", "What is a P/E ratio?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.State != StateFallbackCanned {
		t.Errorf("State = %q, want fallback_canned", got.State)
	}
	if !strings.Contains(got.Text, "price-to-earnings") {
		t.Errorf("Text = %q, want the P/E explanation", got.Text)
	}
}

func TestRespondPrimary(t *testing.T) {
	gen := &fakeGenerator{configured: true, reply: "A P/E ratio compares price to profit."}
	store := newFakeStore()
	o := New(intent.NewClassifier(nil), staticAssembler{block: "Relevant document excerpts:\n[Document 1 (Relevance: 0.90)]: sample"}, gen, store, fakeCounter{n: 10}, nil)
	o.RelatedNewsProbability = 0

	got, err := o.Respond(context.Background(), "u1", "What is a P/E ratio?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.State != StateAIPrimary {
		t.Errorf("State = %q, want ai_primary", got.State)
	}
	if got.Text != gen.reply {
		t.Errorf("Text = %q, want generator reply", got.Text)
	}
	if !strings.Contains(gen.lastPrompt, "Relevant document excerpts:") {
		t.Errorf("prompt missing context block:\n%s", gen.lastPrompt)
	}
	if !strings.Contains(gen.lastPrompt, "Question: What is a P/E ratio?") {
		t.Errorf("prompt missing question:\n%s", gen.lastPrompt)
	}
}

func TestRespondDegradedWhenIndexEmpty(t *testing.T) {
	gen := &fakeGenerator{configured: true, reply: "General answer."}
	o := New(intent.NewClassifier(nil), staticAssembler{}, gen, newFakeStore(), fakeCounter{n: 0}, nil)
	o.RelatedNewsProbability = 0

	got, err := o.Respond(context.Background(), "u1", "Should I invest in stocks?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.State != StateAIDegradedNoIndex {
		t.Errorf("State = %q, want ai_degraded_no_index", got.State)
	}
}

func TestRespondPassesHistory(t *testing.T) {
	gen := &fakeGenerator{configured: true, reply: "ok"}
	o, store := newTestOrchestrator(gen)
	store.turns["u1"] = []storage.Turn{
		{Sender: storage.SenderUser, Text: "earlier question"},
		{Sender: storage.SenderBot, Text: "earlier answer"},
	}

	if _, err := o.Respond(context.Background(), "u1", "follow-up"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(gen.lastHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(gen.lastHistory))
	}
	if gen.lastHistory[1].Role != "model" || gen.lastHistory[1].Text != "earlier answer" {
		t.Errorf("history[1] = %+v", gen.lastHistory[1])
	}
}

func TestRelatedNewsFooter(t *testing.T) {
	gen := &fakeGenerator{configured: true, reply: "Diversify across sectors."}
	headlines := &fakeHeadlines{articles: []news.Article{
		{Title: "Nifty sector rotation continues", Source: "Example Wire"},
	}}
	o := New(intent.NewClassifier(nil), staticAssembler{}, gen, newFakeStore(), fakeCounter{n: 5}, headlines)
	o.RelatedNewsProbability = 1
	o.rng = func() float64 { return 0 }

	got, err := o.Respond(context.Background(), "u1", "Should I invest in stocks?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(got.Text, "Related news:") {
		t.Fatalf("footer missing:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "Nifty sector rotation continues (Example Wire)") {
		t.Errorf("headline missing:\n%s", got.Text)
	}
}

func TestRelatedNewsSkippedByProbability(t *testing.T) {
	gen := &fakeGenerator{configured: true, reply: "Diversify across sectors."}
	headlines := &fakeHeadlines{articles: []news.Article{{Title: "x", Source: "y"}}}
	o := New(intent.NewClassifier(nil), staticAssembler{}, gen, newFakeStore(), fakeCounter{n: 5}, headlines)
	o.RelatedNewsProbability = 0.3
	o.rng = func() float64 { return 0.99 }

	got, err := o.Respond(context.Background(), "u1", "Should I invest in stocks?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if strings.Contains(got.Text, "Related news:") {
		t.Errorf("footer present despite losing the roll:\n%s", got.Text)
	}
}

func TestRelatedNewsNeverOnGreeting(t *testing.T) {
	gen := &fakeGenerator{configured: true, reply: "Hi!"}
	headlines := &fakeHeadlines{articles: []news.Article{{Title: "x", Source: "y"}}}
	o := New(intent.NewClassifier(nil), staticAssembler{}, gen, newFakeStore(), fakeCounter{n: 5}, headlines)
	o.RelatedNewsProbability = 1
	o.rng = func() float64 { return 0 }

	got, err := o.Respond(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if strings.Contains(got.Text, "Related news:") {
		t.Errorf("footer appended to a greeting:\n%s", got.Text)
	}
}

func TestCannedNewsSynthesizedFromHeadlines(t *testing.T) {
	headlines := &fakeHeadlines{articles: []news.Article{
		{Title: "TCS posts record profit", Source: "Example Business"},
	}}
	o := New(intent.NewClassifier(nil), staticAssembler{}, nil, newFakeStore(), fakeCounter{n: 0}, headlines)

	got, err := o.Respond(context.Background(), "u1", "What's the latest news on TCS?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.State != StateFallbackCanned {
		t.Errorf("State = %q, want fallback_canned", got.State)
	}
	if !strings.Contains(got.Text, "TCS posts record profit (Example Business)") {
		t.Errorf("headline missing from canned news answer:\n%s", got.Text)
	}
}

func TestRespondEmptyMessage(t *testing.T) {
	o, _ := newTestOrchestrator(nil)
	if _, err := o.Respond(context.Background(), "u1", "   "); err == nil {
		t.Fatal("Respond accepted an empty message")
	}
}
