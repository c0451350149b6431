// Package tokens provides prompt-size estimation for logging and metrics.
// Estimates never replace the upstream provider's own token accounting.
package tokens

import "github.com/Leikymain/chatbot-api/internal/domain"

// Estimator approximates token counts from character length. Claude has no
// local tokenizer, so a chars-per-token heuristic is the best that can be done
// without a network round trip.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4).
	CharsPerToken float64
}

// NewEstimator creates an estimator with the default ratio.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// EstimatePrompt estimates the input token count for a system prompt plus
// message history.
func (e *Estimator) EstimatePrompt(system string, messages []domain.Message) int {
	totalChars := len(system)

	for _, msg := range messages {
		totalChars += len(msg.Role)
		totalChars += len(msg.Content)
		// role tokens + separators
		totalChars += 4
	}

	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = 4.0
	}

	return int(float64(totalChars) / ratio)
}
