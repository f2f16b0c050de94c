package agent

import "strings"

// Intent classifies user text as device control or state query.
type Intent string

const (
	// IntentAction means the user wants a device controlled.
	IntentAction Intent = "action"

	// IntentStatus means the user wants a state reported.
	IntentStatus Intent = "status"
)

// actionPhrases are matched as substrings. "set " keeps its trailing space
// so "sunset" does not match.
var actionPhrases = []string{
	"turn on", "turn off",
	"switch on", "switch off",
	"set ",
}

// actionVerbs are matched as whole words, so "locked" or "opened" in a
// status question does not count as a command.
var actionVerbs = []string{
	"open", "close", "lock", "unlock",
	"increase", "decrease", "toggle", "dim", "brighten",
}

// ClassifyIntent maps free text to action or status by keyword matching.
// Empty or ambiguous text defaults to status.
func ClassifyIntent(userText string) Intent {
	t := strings.ToLower(userText)
	for _, phrase := range actionPhrases {
		if strings.Contains(t, phrase) {
			return IntentAction
		}
	}
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(t, -1) {
		words[w] = true
	}
	for _, verb := range actionVerbs {
		if words[verb] {
			return IntentAction
		}
	}
	return IntentStatus
}
