package agent

import (
	"sort"
	"strings"
)

// Scoring weights. Satisfying the mandatory guard dominates lexical
// relevance and depth penalty, so a branch that performed the required real
// tool call always outranks one that merely talks about it.
const (
	overlapWeight       = 0.5
	serviceDoneBonus    = 4.0
	detailsReadBonus    = 3.0
	depthPenalty        = 0.25
	candidatesHeldBonus = 0.6
)

// scoreBranch assigns the branch its beam-search score. Deterministic given
// inputs; callers break ties by frontier order.
func scoreBranch(intent Intent, b *Branch, userText string) float64 {
	s := overlapWeight * float64(ScoreMatch(userText, strings.Join(b.Transcript, " ")+" "+b.LastObs.Text()))
	if intent == IntentAction && b.DidService {
		s += serviceDoneBonus
	}
	if intent == IntentStatus && b.DidDetails {
		s += detailsReadBonus
	}
	s -= depthPenalty * float64(b.Depth)
	if intent == IntentAction && b.LastObs != nil && len(b.LastObs.Candidates) > 0 {
		s += candidatesHeldBonus
	}
	return s
}

// rankBranches orders branches by score, descending, with ties broken by
// original order, and returns at most beamWidth of them.
func rankBranches(intent Intent, branches []*Branch, userText string, beamWidth int) ([]*Branch, []float64) {
	scores := make([]float64, len(branches))
	order := make([]int, len(branches))
	for i, b := range branches {
		scores[i] = scoreBranch(intent, b, userText)
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	if beamWidth < 1 {
		beamWidth = 1
	}
	n := beamWidth
	if n > len(branches) {
		n = len(branches)
	}
	kept := make([]*Branch, n)
	keptScores := make([]float64, n)
	for i := 0; i < n; i++ {
		kept[i] = branches[order[i]]
		keptScores[i] = scores[order[i]]
	}
	return kept, keptScores
}
