package usecase

import "chat-relay/internal/domain"

// gpt-4o-mini list price, USD per million tokens.
const (
	inputCostPerMTok  = 0.15
	outputCostPerMTok = 0.60
)

// DefaultUSDJPY is the exchange rate used when none is configured.
const DefaultUSDJPY = 150.0

// estimateUsage derives token counts and cost figures from provider usage
// metadata. Absent or negative metadata degrades to zero, never to an error.
func estimateUsage(u domain.CompletionUsage, usdjpy float64) domain.UsageRecord {
	in := u.InputTokens
	if in < 0 {
		in = 0
	}
	out := u.OutputTokens
	if out < 0 {
		out = 0
	}
	total := u.TotalTokens
	if total <= 0 {
		total = in + out
	}
	if usdjpy <= 0 {
		usdjpy = DefaultUSDJPY
	}

	costUSD := float64(in)/1_000_000*inputCostPerMTok + float64(out)/1_000_000*outputCostPerMTok
	return domain.UsageRecord{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		CostUSD:      costUSD,
		CostJPY:      costUSD * usdjpy,
	}
}
