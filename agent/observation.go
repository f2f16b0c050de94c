// Package agent implements the guarded plan/execute engine behind the
// hearth reasoning architectures. One configurable beam-search engine covers
// all five architectures; the simple ones are width-1 presets.
package agent

import (
	"encoding/json"
	"sort"

	"github.com/hearthd/hearth/ha"
)

// EntityCandidate is a ranked entity surfaced to the planner.
type EntityCandidate struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}

// DetailRecord is a compact entity state record surfaced to the planner.
type DetailRecord struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
	Name     string `json:"name"`
}

// Observation is the structured summary of exactly one tool execution,
// attached to the branch that performed it. Exactly one of the four shapes
// is populated: candidate list, detail list, service echo, or ask-user.
type Observation struct {
	Candidates []EntityCandidate `json:"candidates,omitempty"`
	Details    []DetailRecord    `json:"details,omitempty"`
	Count      int               `json:"count,omitempty"`

	ServiceDone bool   `json:"service_done,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Service     string `json:"service,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`

	AskUser string `json:"ask_user,omitempty"`
}

// Text renders the observation as compact JSON for transcripts and prompts.
func (o *Observation) Text() string {
	if o == nil {
		return "None"
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "None"
	}
	return string(b)
}

// Branch is one hypothesis path through the plan/execute loop. Branches are
// value-copied when spawning children; siblings never share mutable state.
type Branch struct {
	// Transcript is the append-only log of actions, observations, and guard
	// notes for this branch's lineage.
	Transcript []string

	// LastObs is the most recent observation, or nil before any tool ran.
	LastObs *Observation

	// DidService is true once a service call executed anywhere in this
	// branch's ancestry.
	DidService bool

	// DidDetails is true once a details read executed anywhere in this
	// branch's ancestry.
	DidDetails bool

	// Depth is the round at which this branch was created.
	Depth int
}

func newRootBranch() *Branch {
	return &Branch{Depth: 0}
}

// child spawns a copy of the branch at the given depth. The transcript is
// copied, never aliased, so the child can append freely.
func (b *Branch) child(depth int) *Branch {
	transcript := make([]string, len(b.Transcript), len(b.Transcript)+4)
	copy(transcript, b.Transcript)
	return &Branch{
		Transcript: transcript,
		LastObs:    b.LastObs,
		DidService: b.DidService,
		DidDetails: b.DidDetails,
		Depth:      depth,
	}
}

func (b *Branch) append(entries ...string) {
	b.Transcript = append(b.Transcript, entries...)
}

// Planner tool names. These are the wire protocol between the engine and the
// language model; the model emits JSON steps tagged with one of them.
const (
	toolListDomain  = "get_entities_by_domain_tool"
	toolGetDetails  = "get_entities_details_tool"
	toolCallService = "service_call_tool"
	toolFinish      = "finish"
	toolAskUser     = "ask_user"
)

// Step is one candidate next step proposed by the planner for one branch in
// one round. Steps are ephemeral; their effect is folded into the child
// branch they produce.
type Step struct {
	Tool    string   `json:"tool"`
	Args    StepArgs `json:"args,omitempty"`
	Final   string   `json:"final,omitempty"`
	Message string   `json:"message,omitempty"`
}

// StepArgs carries the union of tool arguments across the step variants.
// Message mirrors Step.Message because some models nest it under args.
type StepArgs struct {
	Domain    string         `json:"domain,omitempty"`
	Service   string         `json:"service,omitempty"`
	EntityID  string         `json:"entity_id,omitempty"`
	EntityIDs []string       `json:"entity_ids,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// key returns a structural identity for duplicate removal within a round.
func (s *Step) key() string {
	b, err := json.Marshal(s)
	if err != nil {
		return s.Tool
	}
	return string(b)
}

// stepPriority orders candidates so operative tools run before ask_user.
func stepPriority(tool string) int {
	switch tool {
	case toolCallService:
		return 0
	case toolGetDetails:
		return 1
	case toolListDomain:
		return 2
	case toolFinish:
		return 3
	case toolAskUser:
		return 4
	default:
		return 5
	}
}

func summarizeEntities(entities []ha.Entity, userText string, topK int) *Observation {
	type ranked struct {
		score int
		cand  EntityCandidate
	}
	rankedList := make([]ranked, 0, len(entities))
	for _, e := range entities {
		name := e.Name
		if name == "" {
			name = e.EntityID
		}
		rankedList = append(rankedList, ranked{
			score: ScoreMatch(userText, e.EntityID+" "+name),
			cand:  EntityCandidate{EntityID: e.EntityID, Name: name},
		})
	}
	// Stable sort keeps backend ordering for ties.
	sort.SliceStable(rankedList, func(i, j int) bool { return rankedList[i].score > rankedList[j].score })

	n := topK
	if n > len(rankedList) {
		n = len(rankedList)
	}
	candidates := make([]EntityCandidate, 0, n)
	for _, r := range rankedList[:n] {
		candidates = append(candidates, r.cand)
	}
	return &Observation{Candidates: candidates, Count: len(entities)}
}

func summarizeDetails(details []ha.Detail, topK int) *Observation {
	n := topK
	if n > len(details) {
		n = len(details)
	}
	records := make([]DetailRecord, 0, n)
	for _, d := range details[:n] {
		records = append(records, DetailRecord{
			EntityID: d.EntityID,
			State:    d.State,
			Name:     d.Name,
		})
	}
	return &Observation{Details: records, Count: len(details)}
}
