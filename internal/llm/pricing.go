package llm

import (
	"sort"
	"strings"
)

// modelRate holds USD prices per one million tokens.
type modelRate struct {
	inputPerM  float64
	outputPerM float64
}

// rateTable maps model name prefixes to prices. Longest prefix wins so
// "gemini-2.5-flash-lite" is not billed as "gemini-2.5-flash".
var rateTable = map[string]modelRate{
	"gemini-2.5-pro":          {inputPerM: 1.25, outputPerM: 10.00},
	"gemini-2.5-flash":        {inputPerM: 0.30, outputPerM: 2.50},
	"gemini-2.5-flash-lite":   {inputPerM: 0.10, outputPerM: 0.40},
	"gemini-2.5-computer-use": {inputPerM: 1.25, outputPerM: 10.00},
	"gemini-2.0-flash":        {inputPerM: 0.10, outputPerM: 0.40},
}

// fallbackRate covers unknown models so spend is never silently zero.
var fallbackRate = modelRate{inputPerM: 1.25, outputPerM: 10.00}

func rateFor(model string) modelRate {
	prefixes := make([]string, 0, len(rateTable))
	for prefix := range rateTable {
		if strings.HasPrefix(model, prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	if len(prefixes) == 0 {
		return fallbackRate
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return rateTable[prefixes[0]]
}

// Cost prices a finished call from its token usage.
func Cost(model string, usage Usage) float64 {
	rate := rateFor(model)
	return float64(usage.InputTokens)*rate.inputPerM/1e6 +
		float64(usage.OutputTokens)*rate.outputPerM/1e6
}

// EstimateCost projects the worst-case spend of a call before it runs:
// the prompt priced at the input rate plus the full output budget priced
// at the output rate. Used for cost-cap checks.
func EstimateCost(model string, promptChars int, maxOutputTokens int32) float64 {
	// Rough prompt tokenization at four characters per token.
	inputTokens := promptChars / 4
	rate := rateFor(model)
	return float64(inputTokens)*rate.inputPerM/1e6 +
		float64(maxOutputTokens)*rate.outputPerM/1e6
}
