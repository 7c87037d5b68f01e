package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fingenie/fingenie/internal/cache"
	"github.com/fingenie/fingenie/internal/intent"
	"github.com/fingenie/fingenie/internal/market"
	"github.com/fingenie/fingenie/internal/news"
	"github.com/fingenie/fingenie/internal/retrieval"
	"github.com/fingenie/fingenie/internal/storage"
)

type fakeSearcher struct {
	matches []retrieval.Match
}

func (f *fakeSearcher) Retrieve(ctx context.Context, query string, topK int) []retrieval.Match {
	return f.matches
}

type fakeQuotes struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeQuotes) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	f.calls.Add(1)
	if f.fail {
		return market.Quote{}, errors.New("quote backend down")
	}
	return market.Quote{Symbol: symbol, Price: 3456.70, ChangePercent: 1.25}, nil
}

func (f *fakeQuotes) GetMarketOverview(ctx context.Context) ([]market.Index, error) {
	if f.fail {
		return nil, errors.New("quote backend down")
	}
	return []market.Index{{Name: "SENSEX", Value: 81500.25, ChangePercent: 0.4}}, nil
}

type fakeNews struct {
	articles []news.Article
	fail     bool
}

func (f *fakeNews) Search(ctx context.Context, query string, limit int, category string) ([]news.Article, error) {
	if f.fail {
		return nil, errors.New("news backend down")
	}
	return f.articles, nil
}

func newsClassification(t *testing.T) intent.Classification {
	t.Helper()
	cls := intent.NewClassifier(nil).Classify("What's the latest news on TCS?")
	if cls.Intent != intent.IntentNews || !cls.RequiresFreshData {
		t.Fatalf("unexpected classification %+v", cls)
	}
	return cls
}

func TestAssembleSectionOrder(t *testing.T) {
	searcher := &fakeSearcher{matches: []retrieval.Match{
		{ID: "doc_chunk_0", Text: "TCS is an Indian IT services company.", Score: 0.87},
	}}
	headlines := &fakeNews{articles: []news.Article{
		{Title: "TCS posts record profit", Source: "Example Wire"},
	}}
	a := New(searcher, &fakeQuotes{}, headlines, nil, 0)

	window := []storage.Turn{
		{Sender: storage.SenderUser, Text: "hi"},
		{Sender: storage.SenderBot, Text: "Hello! How can I help?"},
	}
	got := a.Assemble(context.Background(), "latest news on TCS", newsClassification(t), window)

	wantInOrder := []string{
		"[Document 1 (Relevance: 0.87)]: TCS is an Indian IT services company.",
		"TCS: ₹3456.70 (+1.25%)",
		"- TCS posts record profit (Example Wire)",
		"User: hi",
		"Assistant: Hello! How can I help?",
	}
	pos := -1
	for _, want := range wantInOrder {
		idx := strings.Index(got, want)
		if idx < 0 {
			t.Fatalf("assembled context missing %q:\n%s", want, got)
		}
		if idx < pos {
			t.Fatalf("%q appears out of order:\n%s", want, got)
		}
		pos = idx
	}
}

func TestAssembleQuoteCacheAbsorbsRepeats(t *testing.T) {
	quotes := &fakeQuotes{}
	a := New(nil, quotes, nil, cache.New(), 0)

	cls := newsClassification(t)
	a.Assemble(context.Background(), "TCS news", cls, nil)
	a.Assemble(context.Background(), "TCS news", cls, nil)

	if got := quotes.calls.Load(); got != 1 {
		t.Fatalf("upstream quote calls = %d, want 1", got)
	}
}

func TestAssembleFailedSourceDropsSection(t *testing.T) {
	searcher := &fakeSearcher{matches: []retrieval.Match{
		{Text: "Some excerpt.", Score: 0.5},
	}}
	a := New(searcher, &fakeQuotes{fail: true}, &fakeNews{fail: true}, nil, 0)

	got := a.Assemble(context.Background(), "TCS news", newsClassification(t), nil)
	if !strings.Contains(got, "Relevant document excerpts:") {
		t.Errorf("excerpt section missing:\n%s", got)
	}
	if strings.Contains(got, "Current financial data:") {
		t.Errorf("financial section present despite quote failure:\n%s", got)
	}
	if strings.Contains(got, "Recent headlines:") {
		t.Errorf("headline section present despite news failure:\n%s", got)
	}
}

func TestAssembleEmptyWhenNoSources(t *testing.T) {
	a := New(nil, nil, nil, nil, 0)
	cls := intent.NewClassifier(nil).Classify("hello")
	if got := a.Assemble(context.Background(), "hello", cls, nil); got != "" {
		t.Fatalf("Assemble = %q, want empty", got)
	}
}

func TestAssembleMarketOverview(t *testing.T) {
	a := New(nil, &fakeQuotes{}, nil, nil, 0)
	cls := intent.NewClassifier(nil).Classify("How is the market doing today?")
	if cls.Intent != intent.IntentMarkets {
		t.Fatalf("unexpected intent %q", cls.Intent)
	}

	got := a.Assemble(context.Background(), "market", cls, nil)
	if !strings.Contains(got, "SENSEX: 81500.25 (+0.40%)") {
		t.Fatalf("overview line missing:\n%s", got)
	}
}

func TestAssembleBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	searcher := &fakeSearcher{matches: []retrieval.Match{
		{Text: long, Score: 0.9},
		{Text: long, Score: 0.8},
		{Text: "short excerpt", Score: 0.7},
	}}
	a := New(searcher, nil, nil, nil, 650)

	cls := intent.NewClassifier(nil).Classify("tell me about budgets")
	got := a.Assemble(context.Background(), "budget", cls, nil)
	if len(got) > 650 {
		t.Fatalf("assembled context is %d chars, budget 650", len(got))
	}
	if !strings.Contains(got, "Relevance: 0.90") {
		t.Errorf("top match missing:\n%s", got)
	}
	if !strings.Contains(got, "short excerpt") {
		t.Errorf("fitting lower-ranked match dropped:\n%s", got)
	}
}

func TestAssembleWindowCapped(t *testing.T) {
	var window []storage.Turn
	for i := 0; i < 10; i++ {
		window = append(window, storage.Turn{Sender: storage.SenderUser, Text: fmt.Sprintf("message %d", i)})
	}
	a := New(nil, nil, nil, nil, 0)

	cls := intent.NewClassifier(nil).Classify("hello")
	got := a.Assemble(context.Background(), "hello", cls, window)
	if strings.Contains(got, "message 3") {
		t.Errorf("turn outside the window included:\n%s", got)
	}
	for i := 4; i < 10; i++ {
		if !strings.Contains(got, fmt.Sprintf("message %d", i)) {
			t.Errorf("turn %d missing from window:\n%s", i, got)
		}
	}
}
