package tokens

// Pricing holds per-1M-token rates for one model alias, input and output
// separate. Rates are in CNY.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// modelPricing is the static pricing table keyed by model alias. Aliases
// cover both logical names and physical routes so records are priced the
// same however the call was attributed.
var modelPricing = map[string]Pricing{
	"qwen":         {InputPerMillion: 0.8, OutputPerMillion: 2.0},
	"qwen-turbo":   {InputPerMillion: 0.3, OutputPerMillion: 0.6},
	"deepseek":     {InputPerMillion: 2.0, OutputPerMillion: 8.0},
	"ark-deepseek": {InputPerMillion: 2.0, OutputPerMillion: 8.0},
	"kimi":         {InputPerMillion: 4.0, OutputPerMillion: 16.0},
	"ark-kimi":     {InputPerMillion: 4.0, OutputPerMillion: 16.0},
	"doubao":       {InputPerMillion: 0.8, OutputPerMillion: 2.0},
	"ark-doubao":   {InputPerMillion: 0.8, OutputPerMillion: 2.0},
}

// PricingFor returns the pricing for a model alias. Unknown aliases price
// at zero rather than failing: losing cost attribution must never lose the
// usage row itself.
func PricingFor(alias string) Pricing {
	return modelPricing[alias]
}

// cost computes the cost of tokenCount tokens at a per-1M rate.
func cost(tokenCount int, perMillion float64) float64 {
	return float64(tokenCount) * perMillion / 1e6
}
