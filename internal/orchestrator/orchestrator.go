// Package orchestrator routes a user message through classification,
// context assembly, and answer generation, degrading through fixed
// fallback tiers when capabilities are missing.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/fingenie/fingenie/internal/gemini"
	"github.com/fingenie/fingenie/internal/intent"
	"github.com/fingenie/fingenie/internal/news"
	"github.com/fingenie/fingenie/internal/storage"
)

// State identifies which answer tier produced a response.
type State string

const (
	// StateAIPrimary is full generation with assembled context.
	StateAIPrimary State = "ai_primary"
	// StateAIDegradedNoIndex is generation without document excerpts
	// because the knowledge index is empty.
	StateAIDegradedNoIndex State = "ai_degraded_no_index"
	// StateFallbackCanned is the curated-answer tier, used when
	// generation is unconfigured or fails.
	StateFallbackCanned State = "fallback_canned"
)

const (
	// requestTimeout bounds a single answer end to end.
	requestTimeout = 15 * time.Second

	historyWindow    = 6
	relatedNewsLimit = 3

	// DefaultRelatedNewsProbability is the chance a primary answer gets
	// a related-headlines footer appended.
	DefaultRelatedNewsProbability = 0.3
)

const systemPreamble = `You are FinGenie, a helpful financial assistant for retail investors in India. Answer clearly and concisely. Use the provided context when it is relevant; if it is not, answer from general financial knowledge. Never give personalized investment advice or guarantees of returns.`

// Generator produces an answer from a prompt and conversation history.
type Generator interface {
	Configured() bool
	Generate(ctx context.Context, prompt string, history []gemini.Message, cfg gemini.GenerationConfig) (string, error)
}

// ContextAssembler builds the context block for a classified query.
type ContextAssembler interface {
	Assemble(ctx context.Context, query string, cls intent.Classification, window []storage.Turn) string
}

// ConversationStore persists and recalls per-user turns.
type ConversationStore interface {
	AppendTurn(userID string, turn storage.Turn) error
	RecentTurns(userID string, n int) ([]storage.Turn, error)
}

// IndexCounter reports the size of the knowledge index.
type IndexCounter interface {
	Count() (int, error)
}

// HeadlineProvider supplies headlines for the canned news tier and the
// related-news footer.
type HeadlineProvider interface {
	Search(ctx context.Context, query string, limit int, category string) ([]news.Article, error)
}

// Answer is the orchestrated response to one message.
type Answer struct {
	Text   string
	Intent intent.Intent
	State  State
}

// Orchestrator wires the answer pipeline. Generator, index, and
// headline provider may each be nil; the pipeline degrades rather than
// failing construction.
type Orchestrator struct {
	classifier *intent.Classifier
	assembler  ContextAssembler
	generator  Generator
	store      ConversationStore
	index      IndexCounter
	headlines  HeadlineProvider

	// RelatedNewsProbability is the chance a primary answer is extended
	// with related headlines. Zero disables the footer.
	RelatedNewsProbability float64

	genCfg gemini.GenerationConfig
	rng    func() float64
	clock  func() time.Time
}

// New creates an Orchestrator with production randomness and clock.
func New(classifier *intent.Classifier, assembler ContextAssembler, generator Generator, store ConversationStore, index IndexCounter, headlines HeadlineProvider) *Orchestrator {
	return &Orchestrator{
		classifier:             classifier,
		assembler:              assembler,
		generator:              generator,
		store:                  store,
		index:                  index,
		headlines:              headlines,
		RelatedNewsProbability: DefaultRelatedNewsProbability,
		genCfg:                 gemini.DefaultGenerationConfig(),
		rng:                    rand.Float64,
		clock:                  time.Now,
	}
}

// Respond answers one user message. The user turn and the answer are
// both appended to the conversation store; a store failure is logged
// but never blocks the answer.
func (o *Orchestrator) Respond(ctx context.Context, userID, message string) (Answer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Answer{}, fmt.Errorf("empty message")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	cls := o.classifier.Classify(message)

	var window []storage.Turn
	if o.store != nil {
		var err error
		window, err = o.store.RecentTurns(userID, historyWindow)
		if err != nil {
			slog.Warn("conversation recall failed", "user", userID, "error", err)
		}
	}

	answer := o.answer(ctx, message, cls, window)

	if o.store != nil {
		now := o.clock()
		turns := []storage.Turn{
			{Sender: storage.SenderUser, Text: message, Timestamp: now},
			{Sender: storage.SenderBot, Text: answer.Text, Timestamp: now},
		}
		for _, turn := range turns {
			if err := o.store.AppendTurn(userID, turn); err != nil {
				slog.Warn("conversation append failed", "user", userID, "error", err)
				break
			}
		}
	}

	return answer, nil
}

func (o *Orchestrator) answer(ctx context.Context, message string, cls intent.Classification, window []storage.Turn) Answer {
	if o.generator == nil || !o.generator.Configured() {
		return Answer{Text: o.canned(ctx, cls), Intent: cls.Intent, State: StateFallbackCanned}
	}

	state := StateAIPrimary
	if o.index != nil {
		if n, err := o.index.Count(); err == nil && n == 0 {
			state = StateAIDegradedNoIndex
		}
	}

	var contextBlock string
	if o.assembler != nil {
		contextBlock = o.assembler.Assemble(ctx, message, cls, window)
	}

	prompt := buildPrompt(message, contextBlock)
	text, err := o.generator.Generate(ctx, prompt, toHistory(window), o.genCfg)
	if err != nil {
		slog.Warn("generation failed, serving canned answer", "intent", cls.Intent, "error", err)
		return Answer{Text: o.canned(ctx, cls), Intent: cls.Intent, State: StateFallbackCanned}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Answer{Text: o.canned(ctx, cls), Intent: cls.Intent, State: StateFallbackCanned}
	}

	if state == StateAIPrimary {
		text = o.maybeAppendRelatedNews(ctx, cls, text)
	}
	return Answer{Text: text, Intent: cls.Intent, State: state}
}

func (o *Orchestrator) canned(ctx context.Context, cls intent.Classification) string {
	var headlines []news.Article
	if cls.Intent == intent.IntentNews && o.headlines != nil {
		topic := cls.TopicKeywords()
		if topic == "" {
			topic = "markets"
		}
		var err error
		headlines, err = o.headlines.Search(ctx, topic, relatedNewsLimit, "")
		if err != nil {
			slog.Warn("headline search failed for canned answer", "topic", topic, "error", err)
		}
	}
	return cannedResponse(cls, headlines)
}

// maybeAppendRelatedNews extends a primary answer with a short
// related-headlines footer, gated by probability so answers do not all
// read alike. Greetings and answers that already carry news are left
// alone.
func (o *Orchestrator) maybeAppendRelatedNews(ctx context.Context, cls intent.Classification, text string) string {
	if o.headlines == nil || o.RelatedNewsProbability <= 0 {
		return text
	}
	if cls.Intent == intent.IntentGreeting || cls.Intent == intent.IntentNews {
		return text
	}
	if o.rng() >= o.RelatedNewsProbability {
		return text
	}

	topic := cls.TopicKeywords()
	if topic == "" {
		return text
	}
	articles, err := o.headlines.Search(ctx, topic, relatedNewsLimit, "")
	if err != nil || len(articles) == 0 {
		return text
	}

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nRelated news:\n")
	for _, a := range articles {
		fmt.Fprintf(&sb, "- %s (%s)\n", a.Title, a.Source)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func buildPrompt(message, contextBlock string) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	if contextBlock != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(contextBlock)
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(message)
	return sb.String()
}

func toHistory(window []storage.Turn) []gemini.Message {
	if len(window) == 0 {
		return nil
	}
	out := make([]gemini.Message, 0, len(window))
	for _, turn := range window {
		role := "user"
		if turn.Sender == storage.SenderBot {
			role = "model"
		}
		out = append(out, gemini.Message{Role: role, Text: turn.Text})
	}
	return out
}
