package summary

// Limits bounds one completion for a model.
type Limits struct {
	// MaxTokens is passed as the completion token limit.
	MaxTokens int

	// MaxWordsPerChunk bounds how many transcript words go into one prompt.
	MaxWordsPerChunk int
}

var modelLimits = map[string]Limits{
	"gpt-4-turbo-32k":   {MaxTokens: 32768, MaxWordsPerChunk: 24576},
	"gpt-4-turbo":       {MaxTokens: 8192, MaxWordsPerChunk: 6144},
	"gpt-3.5-turbo-16k": {MaxTokens: 16384, MaxWordsPerChunk: 12288},
	"gpt-3.5-turbo":     {MaxTokens: 4096, MaxWordsPerChunk: 3072},
}

// DefaultLimits applies to models missing from the table.
var DefaultLimits = Limits{MaxTokens: 4096, MaxWordsPerChunk: 3072}

// LimitsFor returns the limits for model. Matching is exact.
func LimitsFor(model string) Limits {
	if l, ok := modelLimits[model]; ok {
		return l
	}
	return DefaultLimits
}
