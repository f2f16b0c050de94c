package agent

import (
	"regexp"
	"sort"
	"strings"
)

// allDomains is the fixed domain list, in priority order.
var allDomains = []string{"light", "switch", "fan", "lock", "cover", "climate", "media_player", "sensor"}

// onOffPreferredDomains is tried first for generic on/off phrasing with no
// explicit domain.
var onOffPreferredDomains = []string{"light", "switch", "fan"}

var wordRe = regexp.MustCompile(`[a-z0-9_]+`)

// ScoreMatch counts query tokens (length >= 2, word-boundary split,
// case-insensitive) that appear as substrings of the candidate text. It is
// the single lexical relevance measure used for entity ranking and branch
// scoring; purely deterministic, no ML.
func ScoreMatch(query, candidateText string) int {
	score := 0
	t := strings.ToLower(candidateText)
	for _, part := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if len(part) < 2 {
			continue
		}
		if strings.Contains(t, part) {
			score++
		}
	}
	return score
}

// LikelyDomains returns plausible domains for the request, ordered by
// likelihood. Domains mentioned literally in the text win; otherwise generic
// on/off actions prefer light, switch, fan; otherwise the full list is
// returned. The result is a priority list: callers try each until one yields
// entities.
func LikelyDomains(userText string, intent Intent) []string {
	t := strings.ToLower(userText)
	var hits []string
	for _, dom := range allDomains {
		if strings.Contains(t, dom) {
			hits = append(hits, dom)
		}
	}
	if len(hits) > 0 {
		return hits
	}
	if intent == IntentAction && ExpectedPolarity(userText) != "" {
		return onOffPreferredDomains
	}
	return allDomains
}

// ExpectedPolarity infers an implied on/off polarity from phrasing. Returns
// "on", "off", or "" when no polarity is detectable.
func ExpectedPolarity(userText string) string {
	t := strings.ToLower(userText)
	switch {
	case strings.Contains(t, "turn on"), strings.Contains(t, "switch on"), strings.Contains(t, "open"):
		return "on"
	case strings.Contains(t, "turn off"), strings.Contains(t, "switch off"), strings.Contains(t, "close"):
		return "off"
	default:
		return ""
	}
}

// BestEntity ranks candidates by ScoreMatch against "entity_id name" and
// returns the top entity id only if its score is strictly positive. An empty
// return signals unresolved; the caller must not guess. Ties break by
// original candidate order.
func BestEntity(query string, candidates []EntityCandidate) string {
	if len(candidates) == 0 {
		return ""
	}
	type ranked struct {
		score int
		id    string
	}
	rankedList := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		rankedList = append(rankedList, ranked{
			score: ScoreMatch(query, c.EntityID+" "+c.Name),
			id:    c.EntityID,
		})
	}
	sort.SliceStable(rankedList, func(i, j int) bool { return rankedList[i].score > rankedList[j].score })
	if rankedList[0].score > 0 {
		return rankedList[0].id
	}
	return ""
}
