package domain

import "strings"

// ModelPrice is USD per one million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

var modelPrices = map[string]ModelPrice{
	"gpt-4o":                 {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":            {Input: 0.15, Output: 0.60},
	"gpt-4.1":                {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":           {Input: 0.40, Output: 1.60},
	"text-embedding-3-small": {Input: 0.02},
	"text-embedding-3-large": {Input: 0.13},
}

// EstimateCost returns the USD cost of a call. Unknown and local models cost 0.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	price, ok := lookupPrice(model)
	if !ok {
		return 0
	}
	return (float64(promptTokens)*price.Input + float64(completionTokens)*price.Output) / 1_000_000
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func lookupPrice(model string) (ModelPrice, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if price, ok := modelPrices[model]; ok {
		return price, true
	}
	// Dated snapshots such as gpt-4o-mini-2024-07-18 use the base price.
	best := ""
	for name := range modelPrices {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return modelPrices[best], true
}
