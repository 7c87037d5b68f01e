// Package composer assembles the context block injected ahead of a user
// query: semantic document excerpts, live financial data, headlines, and
// the recent conversation window. Sources are fetched in parallel and a
// failed source drops its section rather than failing the assembly.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fingenie/fingenie/internal/cache"
	"github.com/fingenie/fingenie/internal/intent"
	"github.com/fingenie/fingenie/internal/market"
	"github.com/fingenie/fingenie/internal/news"
	"github.com/fingenie/fingenie/internal/retrieval"
	"github.com/fingenie/fingenie/internal/storage"
)

const (
	// DefaultMaxContextChars bounds the assembled context block.
	DefaultMaxContextChars = 6000

	// historyWindow is the number of recent turns included verbatim.
	historyWindow = 6

	retrieveTopK = 5
	newsLimit    = 5
)

// SemanticSearcher yields scored document excerpts for a query.
type SemanticSearcher interface {
	Retrieve(ctx context.Context, query string, topK int) []retrieval.Match
}

// QuoteProvider yields live market data.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (market.Quote, error)
	GetMarketOverview(ctx context.Context) ([]market.Index, error)
}

// HeadlineProvider yields recent financial headlines.
type HeadlineProvider interface {
	Search(ctx context.Context, query string, limit int, category string) ([]news.Article, error)
}

// Aggregator fans out to the context sources and assembles their results
// into a single bounded block. Any provider may be nil; its section is
// simply omitted.
type Aggregator struct {
	searcher SemanticSearcher
	quotes   QuoteProvider
	news     HeadlineProvider
	cache    *cache.Cache

	MaxContextChars int
}

// New creates an Aggregator. If maxContextChars <= 0, the default
// (6000) is used.
func New(searcher SemanticSearcher, quotes QuoteProvider, headlines HeadlineProvider, c *cache.Cache, maxContextChars int) *Aggregator {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Aggregator{
		searcher:        searcher,
		quotes:          quotes,
		news:            headlines,
		cache:           c,
		MaxContextChars: maxContextChars,
	}
}

// Assemble builds the context block for a classified query. Sections
// appear in a fixed order: document excerpts, financial data, headlines,
// then the conversation window. The result is empty when no source
// produced anything.
func (a *Aggregator) Assemble(ctx context.Context, query string, cls intent.Classification, window []storage.Turn) string {
	var (
		wg       sync.WaitGroup
		matches  []retrieval.Match
		qts      []market.Quote
		overview []market.Index
		articles []news.Article
	)

	if a.searcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matches = a.searcher.Retrieve(ctx, query, retrieveTopK)
		}()
	}

	if a.quotes != nil && cls.RequiresFreshData {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qts = a.fetchQuotes(ctx, cls.Symbols())
		}()
	}
	if a.quotes != nil && cls.Intent == intent.IntentMarkets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			overview = a.fetchOverview(ctx)
		}()
	}

	if a.news != nil && (cls.Intent == intent.IntentNews || cls.RequiresFreshData) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			articles = a.fetchHeadlines(ctx, cls)
		}()
	}

	wg.Wait()

	var sections []string
	if s := formatExcerpts(matches, a.MaxContextChars); s != "" {
		sections = append(sections, s)
	}
	if s := formatFinancialData(qts, overview); s != "" {
		sections = append(sections, s)
	}
	if s := formatHeadlines(articles); s != "" {
		sections = append(sections, s)
	}
	if s := formatWindow(window); s != "" {
		sections = append(sections, s)
	}

	return truncate(strings.Join(sections, "\n\n"), a.MaxContextChars)
}

// fetchQuotes resolves each symbol through the quote cache. A symbol
// whose lookup fails is skipped.
func (a *Aggregator) fetchQuotes(ctx context.Context, symbols []string) []market.Quote {
	var out []market.Quote
	for _, symbol := range symbols {
		key := "quote:" + symbol
		if a.cache != nil {
			if v, ok := a.cache.Get(key); ok {
				out = append(out, v.(market.Quote))
				continue
			}
		}
		quote, err := a.quotes.GetQuote(ctx, symbol)
		if err != nil {
			slog.Warn("quote lookup failed", "symbol", symbol, "error", err)
			continue
		}
		if a.cache != nil {
			a.cache.Set(key, quote, cache.TTLQuote)
		}
		out = append(out, quote)
	}
	return out
}

func (a *Aggregator) fetchOverview(ctx context.Context) []market.Index {
	const key = "market:overview"
	if a.cache != nil {
		if v, ok := a.cache.Get(key); ok {
			return v.([]market.Index)
		}
	}
	overview, err := a.quotes.GetMarketOverview(ctx)
	if err != nil {
		slog.Warn("market overview failed", "error", err)
		return nil
	}
	if a.cache != nil {
		a.cache.Set(key, overview, cache.TTLQuote)
	}
	return overview
}

func (a *Aggregator) fetchHeadlines(ctx context.Context, cls intent.Classification) []news.Article {
	topic := cls.TopicKeywords()
	if topic == "" {
		topic = "markets"
	}
	key := "news:" + topic
	if a.cache != nil {
		if v, ok := a.cache.Get(key); ok {
			return v.([]news.Article)
		}
	}
	articles, err := a.news.Search(ctx, topic, newsLimit, "")
	if err != nil {
		slog.Warn("headline search failed", "topic", topic, "error", err)
		return nil
	}
	if a.cache != nil {
		a.cache.Set(key, articles, cache.TTLNews)
	}
	return articles
}

// formatExcerpts renders ranked matches, dropping entries that would
// push the excerpt section past budget.
func formatExcerpts(matches []retrieval.Match, budget int) string {
	if len(matches) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant document excerpts:\n")
	remaining := budget - sb.Len()
	n := 0
	for _, m := range matches {
		entry := fmt.Sprintf("[Document %d (Relevance: %.2f)]: %s\n", n+1, m.Score, strings.TrimSpace(m.Text))
		if len(entry) > remaining {
			continue
		}
		sb.WriteString(entry)
		remaining -= len(entry)
		n++
	}
	if n == 0 {
		return ""
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatFinancialData(quotes []market.Quote, overview []market.Index) string {
	if len(quotes) == 0 && len(overview) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Current financial data:\n")
	for _, q := range quotes {
		sb.WriteString(market.FormatQuote(q))
		sb.WriteByte('\n')
	}
	for _, idx := range overview {
		sign := "+"
		if idx.ChangePercent < 0 {
			sign = ""
		}
		fmt.Fprintf(&sb, "%s: %.2f (%s%.2f%%)\n", idx.Name, idx.Value, sign, idx.ChangePercent)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatHeadlines(articles []news.Article) string {
	if len(articles) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recent headlines:\n")
	for _, a := range articles {
		fmt.Fprintf(&sb, "- %s (%s)\n", a.Title, a.Source)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatWindow renders the most recent turns, oldest first.
func formatWindow(window []storage.Turn) string {
	if len(window) == 0 {
		return ""
	}
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}

	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, turn := range window {
		speaker := "User"
		if turn.Sender == storage.SenderBot {
			speaker = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, turn.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncate cuts s at the last newline inside the budget so a section
// entry is never split mid-line.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], '\n')
	if cut <= 0 {
		cut = max
	}
	return s[:cut]
}
