package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fingenie/fingenie/internal/intent"
	"github.com/fingenie/fingenie/internal/news"
)

// cannedResponse returns the curated answer for an intent. Every intent
// has a response so the assistant never goes silent when generation is
// unavailable. The switch is exhaustive over the intent set; new intents
// must be added here.
func cannedResponse(cls intent.Classification, headlines []news.Article) string {
	switch cls.Intent {
	case intent.IntentGreeting:
		return "Hello! I'm FinGenie, your financial assistant. Ask me about markets, investing, budgeting, taxes, insurance, or any financial term you'd like explained."
	case intent.IntentNews:
		return cannedNews(cls, headlines)
	case intent.IntentMarkets:
		return "Stock markets let investors buy and sell shares of listed companies. In India the benchmark indexes are the SENSEX (BSE) and NIFTY 50 (NSE); their daily moves reflect broad market sentiment. Prices are driven by company earnings, interest rates, and global cues."
	case intent.IntentInvesting:
		return "A sound investment approach starts with clear goals and a time horizon. Spread money across asset classes, invest regularly rather than timing the market, and favor low-cost diversified funds for long-term goals. Only invest money you won't need in the near term."
	case intent.IntentCrypto:
		return "Cryptocurrencies are highly volatile digital assets. They can gain or lose a large share of their value in days, so treat them as speculative: never allocate more than you can afford to lose, and understand the tax treatment in your jurisdiction before trading."
	case intent.IntentRetirement:
		return "Retirement planning works best started early. Estimate the yearly income you'll need, then save toward it through tax-advantaged vehicles such as EPF, PPF, and NPS, topped up with equity funds for growth. Review the plan annually as your income changes."
	case intent.IntentBudgeting:
		return "A simple starting budget is the 50/30/20 rule: 50% of take-home pay for needs, 30% for wants, and 20% for savings and debt repayment. Track spending for a month to see where money actually goes, then adjust the buckets to fit your life."
	case intent.IntentCredit:
		return "A healthy credit score comes from paying every bill on time, keeping credit-card utilization below about 30%, and avoiding frequent new-credit applications. Check your credit report yearly and dispute errors promptly."
	case intent.IntentTaxes:
		return "Income tax planning means using the deductions available to you, such as Section 80C investments, health-insurance premiums under 80D, and home-loan interest. Compare the old and new tax regimes each year; the better choice depends on how many deductions you actually claim."
	case intent.IntentInsurance:
		return "Insurance protects your finances from large shocks. Most people need term life cover (if anyone depends on their income) and health insurance; insure risks you cannot absorb and skip policies that mix insurance with investment."
	case intent.IntentPERatio:
		return "The price-to-earnings (P/E) ratio is a company's share price divided by its earnings per share. It tells you how much investors pay for each rupee of profit: a high P/E can signal expected growth or overvaluation, a low one can signal value or trouble. Compare P/E within the same industry."
	case intent.IntentDollarCostAvg:
		return "Dollar-cost averaging means investing a fixed amount at regular intervals regardless of price. You automatically buy more units when prices are low and fewer when they are high, which smooths out volatility and removes the temptation to time the market."
	case intent.IntentCompoundInt:
		return "Compound interest is interest earned on both your principal and previously earned interest. Its effect grows dramatically with time: money doubling roughly every 72/r years at r% annual return, which is why starting early matters more than starting big."
	case intent.IntentDiversification:
		return "Diversification means spreading investments across different assets, sectors, and geographies so no single failure sinks your portfolio. A diversified portfolio gives up some upside in exchange for much steadier long-term results."
	case intent.IntentMutualFunds:
		return "A mutual fund pools money from many investors and invests it according to a stated mandate, managed professionally. Index funds track a benchmark at low cost; active funds try to beat it for a higher fee. Check the expense ratio and long-term record before investing."
	case intent.IntentSIP:
		return "A Systematic Investment Plan (SIP) invests a fixed amount into a mutual fund every month automatically. It builds discipline, averages your purchase price across market cycles, and lets you start with small amounts."
	case intent.IntentEmergencyFund:
		return "An emergency fund is three to six months of essential expenses kept in a liquid, low-risk account. Build it before investing elsewhere; it keeps a job loss or medical bill from forcing you into debt or selling investments at a bad time."
	case intent.IntentGeneral:
		return "I can help with questions about markets, investing, budgeting, credit, taxes, insurance, and retirement, or explain financial terms. What would you like to know?"
	default:
		return "I can help with questions about markets, investing, budgeting, credit, taxes, insurance, and retirement, or explain financial terms. What would you like to know?"
	}
}

// cannedNews synthesizes a news answer from live headlines when they are
// available, falling back to a static pointer when they are not.
func cannedNews(cls intent.Classification, headlines []news.Article) string {
	if len(headlines) == 0 {
		topic := cls.TopicKeywords()
		if topic == "" {
			topic = "the markets"
		}
		return fmt.Sprintf("I couldn't reach the news feed just now. For the latest on %s, check a market news source such as the exchanges' own sites, and ask me again in a bit.", topic)
	}

	var sb strings.Builder
	sb.WriteString("Here are the latest headlines I found:\n")
	for _, a := range headlines {
		fmt.Fprintf(&sb, "- %s (%s)\n", a.Title, a.Source)
	}
	return strings.TrimRight(sb.String(), "\n")
}
