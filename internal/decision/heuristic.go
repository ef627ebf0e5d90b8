package decision

import "fmt"

// HeuristicScore is the deterministic momentum score used when the model is
// unavailable. Components: volume/liquidity turnover (up to 30), positive
// 24h change (up to 30), liquidity depth tier (up to 20), safety tier (up to
// 20). Clamped to [0, 100].
func HeuristicScore(s Snapshot) float64 {
	score := 0.0

	if s.LiquidityUSD > 0 {
		turnover := 10 * s.Volume24hUSD / s.LiquidityUSD
		if turnover > 30 {
			turnover = 30
		}
		score += turnover
	}

	change := s.PriceChange24hPct
	if change < 0 {
		change = 0
	}
	if change > 30 {
		change = 30
	}
	score += change

	switch {
	case s.LiquidityUSD >= 50_000:
		score += 20
	case s.LiquidityUSD >= 10_000:
		score += 10
	}

	switch s.SafetyStatus {
	case SafetySafe:
		score += 20
	case SafetyRisky, SafetyUnverified:
		score += 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// HeuristicOutcome builds the fallback verdict from the heuristic score.
func HeuristicOutcome(s Snapshot, minScore float64) Outcome {
	score := HeuristicScore(s)
	return Outcome{
		Buy:      score >= minScore,
		Score:    score,
		Fallback: true,
		Reasoning: fmt.Sprintf(
			"heuristic fallback: momentum score %.1f (min %.1f), liquidity $%.0f, 24h change %.1f%%, safety %s",
			score, minScore, s.LiquidityUSD, s.PriceChange24hPct, s.SafetyStatus),
	}
}
