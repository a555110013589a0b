package llm

// PriceTable holds per-million-token prices in USD.
type PriceTable struct {
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// Cost computes the monetary cost of a call from its token counts.
func (p PriceTable) Cost(inputTokens, outputTokens int) float64 {
	inputCost := float64(inputTokens) * p.InputCostPerMTok / 1_000_000
	outputCost := float64(outputTokens) * p.OutputCostPerMTok / 1_000_000
	return inputCost + outputCost
}
