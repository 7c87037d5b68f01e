// Package intent maps a raw user query to an intent category and a
// routing decision. Classification is a fixed-priority rule table rather
// than a learned model, so behavior is reproducible and every rule is
// independently testable.
package intent

import (
	"regexp"
	"strings"

	"github.com/fingenie/fingenie/internal/cache"
)

// Intent is the discrete category assigned to a query.
type Intent string

const (
	IntentGreeting   Intent = "greeting"
	IntentNews       Intent = "news"
	IntentMarkets    Intent = "markets"
	IntentInvesting  Intent = "investing"
	IntentCrypto     Intent = "crypto"
	IntentRetirement Intent = "retirement"
	IntentBudgeting  Intent = "budgeting"
	IntentCredit     Intent = "credit"
	IntentTaxes      Intent = "taxes"
	IntentInsurance  Intent = "insurance"
	IntentGeneral    Intent = "general"

	// Definition-style shortcuts for well-known financial terms.
	IntentPERatio         Intent = "pe_ratio"
	IntentDollarCostAvg   Intent = "dollar_cost_averaging"
	IntentCompoundInt     Intent = "compound_interest"
	IntentDiversification Intent = "diversification"
	IntentMutualFunds     Intent = "mutual_funds"
	IntentSIP             Intent = "sip"
	IntentEmergencyFund   Intent = "emergency_fund"
)

// Entities holds everything extracted from the query text. Extraction
// uses bounded allow-lists, favoring precision over recall.
type Entities struct {
	Tickers     []string
	Companies   []string
	Terms       []string
	TimePeriods []string
}

// Classification is the per-query result driving context-aggregation
// routing. It is never persisted.
type Classification struct {
	Intent            Intent
	Entities          Entities
	RequiresFreshData bool
}

// knownTickers is the allow-list of symbols the engine recognizes.
var knownTickers = []string{
	"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK", "HINDUNILVR",
	"HDFC", "SBIN", "BAJFINANCE", "BHARTIARTL", "ITC", "KOTAKBANK",
	"LT", "AXISBANK", "ASIANPAINT", "MARUTI", "WIPRO", "HCLTECH",
}

// companyAliases maps lowercase company names to their primary ticker.
var companyAliases = map[string]string{
	"reliance industries": "RELIANCE",
	"tata consultancy":    "TCS",
	"hdfc bank":           "HDFCBANK",
	"infosys":             "INFY",
	"icici bank":          "ICICIBANK",
	"hindustan unilever":  "HINDUNILVR",
	"state bank of india": "SBIN",
	"bajaj finance":       "BAJFINANCE",
	"bharti airtel":       "BHARTIARTL",
	"kotak mahindra":      "KOTAKBANK",
	"larsen & toubro":     "LT",
	"axis bank":           "AXISBANK",
	"asian paints":        "ASIANPAINT",
	"maruti suzuki":       "MARUTI",
	"wipro":               "WIPRO",
}

// termShortcuts maps well-known financial-term phrases to their
// definition-style intents. Checked before the broad domain groups so
// "what is a P/E ratio" classifies as the term, not as markets.
var termShortcuts = []struct {
	phrases []string
	intent  Intent
}{
	{[]string{"p/e ratio", "pe ratio", "price to earnings", "price-to-earnings"}, IntentPERatio},
	{[]string{"dollar cost averaging", "dollar-cost averaging", "rupee cost averaging"}, IntentDollarCostAvg},
	{[]string{"compound interest", "compounding"}, IntentCompoundInt},
	{[]string{"diversification", "diversify"}, IntentDiversification},
	{[]string{"mutual fund"}, IntentMutualFunds},
	{[]string{"sip", "systematic investment plan"}, IntentSIP},
	{[]string{"emergency fund", "rainy day fund"}, IntentEmergencyFund},
}

// domainGroups maps topic keyword sets to intents, evaluated in order.
var domainGroups = []struct {
	keywords []string
	intent   Intent
}{
	{[]string{"market", "sensex", "nifty", "index", "stock price", "share price", "trading"}, IntentMarkets},
	{[]string{"invest", "portfolio", "stocks", "shares", "equity", "returns"}, IntentInvesting},
	{[]string{"crypto", "bitcoin", "ethereum", "blockchain"}, IntentCrypto},
	{[]string{"retire", "pension", "401k", "nps", "provident fund"}, IntentRetirement},
	{[]string{"budget", "saving", "expense", "spending"}, IntentBudgeting},
	{[]string{"credit", "loan", "debt", "emi", "credit score"}, IntentCredit},
	{[]string{"tax", "deduction", "80c", "capital gains"}, IntentTaxes},
	{[]string{"insurance", "premium", "policy", "cover"}, IntentInsurance},
}

var greetingPattern = regexp.MustCompile(`^\s*(hi|hello|hey|namaste|good\s+(morning|afternoon|evening))\b`)

var newsKeywords = []string{"news", "headline", "latest on", "announcement", "what's happening", "whats happening"}

var timePeriodPhrases = []string{
	"today", "yesterday", "this week", "last week", "this month",
	"last month", "this quarter", "last quarter", "this year", "last year",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

// Classifier evaluates the rule table. A shared cache bounds repeated
// classification of identical queries; classification itself is pure.
type Classifier struct {
	cache *cache.Cache
}

// NewClassifier creates a Classifier. c may be nil to disable caching.
func NewClassifier(c *cache.Cache) *Classifier {
	return &Classifier{cache: c}
}

// Classify maps query text to a Classification. Rules are evaluated in a
// fixed priority order: greeting, news intent, financial-term shortcuts,
// domain keyword groups, then the general default.
func (c *Classifier) Classify(query string) Classification {
	key := "classify:" + strings.ToLower(strings.TrimSpace(query))
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v.(Classification)
		}
	}

	result := classify(query)

	if c.cache != nil {
		c.cache.Set(key, result, cache.TTLClassification)
	}
	return result
}

func classify(query string) Classification {
	lower := strings.ToLower(query)

	entities := extractEntities(query, lower)
	result := Classification{
		Intent:            IntentGeneral,
		Entities:          entities,
		RequiresFreshData: len(entities.Tickers) > 0 || len(entities.Companies) > 0,
	}

	switch {
	case greetingPattern.MatchString(lower):
		result.Intent = IntentGreeting
	case containsAny(lower, newsKeywords):
		result.Intent = IntentNews
	default:
		if intent, ok := matchTermShortcut(lower); ok {
			result.Intent = intent
		} else if intent, ok := matchDomainGroup(lower); ok {
			result.Intent = intent
		}
	}

	return result
}

func matchTermShortcut(lower string) (Intent, bool) {
	for _, shortcut := range termShortcuts {
		if containsAny(lower, shortcut.phrases) {
			return shortcut.intent, true
		}
	}
	return "", false
}

func matchDomainGroup(lower string) (Intent, bool) {
	for _, group := range domainGroups {
		if containsAny(lower, group.keywords) {
			return group.intent, true
		}
	}
	return "", false
}

func extractEntities(query, lower string) Entities {
	var e Entities

	// Tickers: exact uppercase-word match against the allow-list.
	seen := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToUpper(query)) {
		clean := nonAlnum.ReplaceAllString(word, "")
		if clean == "" || seen[clean] {
			continue
		}
		for _, symbol := range knownTickers {
			if clean == symbol {
				e.Tickers = append(e.Tickers, symbol)
				seen[clean] = true
				break
			}
		}
	}

	// Company names: substring match on lowercase aliases; the mapped
	// ticker joins the fresh-data routing set without duplicating an
	// already-matched symbol.
	for alias, symbol := range companyAliases {
		if strings.Contains(lower, alias) && !seen[symbol] {
			e.Companies = append(e.Companies, symbol)
			seen[symbol] = true
		}
	}

	for _, shortcut := range termShortcuts {
		for _, phrase := range shortcut.phrases {
			if containsKeyword(lower, phrase) {
				e.Terms = append(e.Terms, phrase)
				break
			}
		}
	}

	for _, phrase := range timePeriodPhrases {
		if containsKeyword(lower, phrase) {
			e.TimePeriods = append(e.TimePeriods, phrase)
		}
	}
	e.TimePeriods = append(e.TimePeriods, yearPattern.FindAllString(query, -1)...)

	return e
}

// containsAny reports whether any keyword appears in s starting at a
// word boundary. Matching anywhere would let short keywords fire inside
// unrelated words ("sip" in "gossip", "cover" in "recover"). Keywords
// still match as prefixes so "invest" covers "investing".
func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if containsKeyword(s, kw) {
			return true
		}
	}
	return false
}

func containsKeyword(s, kw string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return false
		}
		j += i
		if j == 0 || !isLower(s[j-1]) {
			return true
		}
		i = j + 1
	}
}

func isLower(b byte) bool {
	return 'a' <= b && b <= 'z'
}

// Symbols returns the union of ticker and company entities, the set used
// for live-quote fetches.
func (c Classification) Symbols() []string {
	out := make([]string, 0, len(c.Entities.Tickers)+len(c.Entities.Companies))
	out = append(out, c.Entities.Tickers...)
	out = append(out, c.Entities.Companies...)
	return out
}

// TopicKeywords returns the search terms used for news lookups: entities
// first, falling back to the intent name for topic-only queries.
func (c Classification) TopicKeywords() string {
	if syms := c.Symbols(); len(syms) > 0 {
		return strings.Join(syms, " ")
	}
	if len(c.Entities.Terms) > 0 {
		return c.Entities.Terms[0]
	}
	if c.Intent != IntentGeneral && c.Intent != IntentGreeting {
		return strings.ReplaceAll(string(c.Intent), "_", " ")
	}
	return ""
}
