// Package intent maps free-text operator queries to pipeline intents using
// tiered phrase and pattern rules.
package intent

import (
	"regexp"
	"strings"

	"github.com/joescharf/opsassist/internal/models"
)

const (
	forceCheckConfidence = 0.95
	chatConfidence       = 0.98
	defaultConfidence    = 0.50
	minScoredConfidence  = 0.60
	maxScoredConfidence  = 1.00
)

// Classifier is safe for concurrent use; all state is built at construction.
type Classifier struct {
	scoring   []intentRules
	chatWords []*regexp.Regexp
	chatCJK   []string
}

// NewClassifier compiles the rule tiers.
func NewClassifier() *Classifier {
	c := &Classifier{scoring: compileRules()}
	for _, p := range chatPhrases {
		if isLatin(p) {
			c.chatWords = append(c.chatWords, regexp.MustCompile(`\b`+regexp.QuoteMeta(p)+`\b`))
		} else {
			c.chatCJK = append(c.chatCJK, p)
		}
	}
	return c
}

// Classify never fails: unmatched input resolves to chat at 0.50.
func (c *Classifier) Classify(query string) models.IntentResult {
	q := Normalize(query)

	for _, phrase := range forceCheckPhrases {
		if strings.Contains(q, phrase) {
			return models.IntentResult{
				Intent:      models.IntentSystemCheck,
				Confidence:  forceCheckConfidence,
				MatchedRule: "force-check:" + phrase,
				Params:      map[string]string{"force_check": "true"},
			}
		}
	}

	if phrase, ok := c.matchChat(q); ok {
		return models.IntentResult{
			Intent:      models.IntentChat,
			Confidence:  chatConfidence,
			MatchedRule: "chat:" + phrase,
			Params:      map[string]string{"greeting": phrase},
		}
	}

	if res, ok := c.score(q); ok {
		res.Params = extractParams(q, res.Intent)
		return res
	}

	return models.IntentResult{
		Intent:      models.IntentChat,
		Confidence:  defaultConfidence,
		MatchedRule: "default",
	}
}

func (c *Classifier) matchChat(q string) (string, bool) {
	for _, p := range c.chatCJK {
		if strings.Contains(q, p) {
			return p, true
		}
	}
	for _, re := range c.chatWords {
		if m := re.FindString(q); m != "" {
			return m, true
		}
	}
	return "", false
}

// score runs the pattern tier. The winner is the highest aggregate weight;
// ties keep the earlier intent in scoringOrder.
func (c *Classifier) score(q string) (models.IntentResult, bool) {
	var (
		best      models.IntentResult
		bestScore float64
		total     float64
	)
	for _, ir := range c.scoring {
		var s float64
		var first string
		for _, r := range ir.rules {
			if r.re.MatchString(q) {
				s += r.weight
				if first == "" {
					first = r.name
				}
			}
		}
		total += s
		if s > bestScore {
			bestScore = s
			best = models.IntentResult{Intent: ir.intent, MatchedRule: first}
		}
	}
	if bestScore == 0 {
		return models.IntentResult{}, false
	}
	// Dominance over competing intents, scaled by absolute strength so a lone
	// weak regex hit does not read as certainty.
	conf := (bestScore / total) * minFloat(1, bestScore/literalWeight)
	best.Confidence = clamp(conf, minScoredConfidence, maxScoredConfidence)
	return best, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > 0x7f {
			return false
		}
	}
	return true
}
