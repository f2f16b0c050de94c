package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Generator is the language-model collaborator: prompt text in, free text
// out, bounded by the implementation's per-call timeout.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

const plannerSystem = "You are a Tree-of-Thoughts planner. You cannot call tools. " +
	"At each depth, propose up to K distinct next steps as JSON only."

const plannerPromptTemplate = `%s

USER_REQUEST:
%s

PREVIOUS (compact transcript):
%s

OBS (last observation, optional):
%s

Propose up to %d DISTINCT next steps as a JSON ARRAY. Each item must be ONE of:

1) List entities by domain:
{"tool":"get_entities_by_domain_tool","args":{"domain":"light"}}

2) Read states:
{"tool":"get_entities_details_tool","args":{"entity_ids":["light.bed_light"]}}

3) Execute an action:
{"tool":"service_call_tool","args":{"domain":"light","service":"turn_on","entity_id":"light.bed_light","data":{}}}

4) If you can answer now:
{"tool":"finish","final":"<ONE short, friendly English sentence>"}

5) If the user must clarify:
{"tool":"ask_user","message":"<ONE brief question (<=8 words)>"}

Rules:
- JSON array ONLY. No prose, no code fences, no reasoning.
- One tool per item. Items MUST be distinct and plausible.
- Prefer minimal steps that reduce uncertainty. Avoid redundant or identical items.`

const finishProbePromptTemplate = `%s
Now output a JSON finish ONLY if you can.
Example: {"tool":"finish","final":"<ONE short, friendly English sentence>"}

USER_REQUEST:
%s

PREVIOUS:
%s

OBS:%s`

// transcriptWindow is how many trailing transcript entries the planner sees.
const transcriptWindow = 8

// clarifyFallback is the degraded candidate substituted on planner timeout.
const clarifyFallback = "Which device exactly?"

func plannerPrompt(userText string, node *Branch, k int) string {
	return fmt.Sprintf(plannerPromptTemplate,
		plannerSystem, userText, transcriptTail(node), node.LastObs.Text(), k)
}

func finishProbePrompt(userText string, node *Branch) string {
	return fmt.Sprintf(finishProbePromptTemplate,
		plannerSystem, userText, transcriptTail(node), node.LastObs.Text())
}

func transcriptTail(node *Branch) string {
	if len(node.Transcript) == 0 {
		return "No previous steps."
	}
	start := len(node.Transcript) - transcriptWindow
	if start < 0 {
		start = 0
	}
	return strings.Join(node.Transcript[start:], "\n")
}

var (
	jsonBlobRe      = regexp.MustCompile(`(?s)\{.*\}|\[.*\]`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// extractJSON locates the first top-level JSON array or object in free text
// and returns it. Strict parse first, then one bounded repair: trailing
// comma removal. This is the only place planner output is parsed.
func extractJSON(s string) (json.RawMessage, bool) {
	if s == "" {
		return nil, false
	}
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = thinkBlockRe.ReplaceAllString(s, "")

	m := jsonBlobRe.FindString(s)
	if m == "" {
		return nil, false
	}
	if json.Valid([]byte(m)) {
		return json.RawMessage(m), true
	}
	fixed := trailingCommaRe.ReplaceAllString(m, "$1")
	if json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed), true
	}
	return nil, false
}

// decodeSteps turns a raw JSON value into candidate steps. A single object
// is accepted as a one-element plan. Items without a tool tag are dropped.
func decodeSteps(raw json.RawMessage) []Step {
	var steps []Step
	if err := json.Unmarshal(raw, &steps); err == nil {
		out := steps[:0]
		for _, st := range steps {
			if st.Tool != "" {
				out = append(out, st)
			}
		}
		return out
	}
	var st Step
	if err := json.Unmarshal(raw, &st); err == nil && st.Tool != "" {
		return []Step{st}
	}
	return nil
}

// proposeSteps runs one planning round for one branch: one LM call, parsed
// into at most k candidate steps. A timeout degrades to a single low-priority
// ask-user candidate; a malformed response yields no candidates for this
// branch (the round continues for the rest of the frontier).
func (e *Engine) proposeSteps(ctx context.Context, rs *runState, userText string, node *Branch) []Step {
	raw, err := e.generate(ctx, rs, plannerPrompt(userText, node, e.cfg.CandidatesPerNode))
	if err != nil {
		if isTimeout(err) {
			e.logger.Warn("planner timeout; enqueueing low-priority ask_user branch", "depth", node.Depth)
			return []Step{{Tool: toolAskUser, Message: clarifyFallback}}
		}
		e.logger.Warn("planner call failed; skipping branch for this round", "error", err)
		return nil
	}

	rawJSON, ok := extractJSON(raw)
	if !ok {
		e.logger.Debug("planner returned no parseable JSON; skipping branch for this round")
		return nil
	}
	steps := decodeSteps(rawJSON)
	if len(steps) > e.cfg.CandidatesPerNode {
		steps = steps[:e.cfg.CandidatesPerNode]
	}
	return steps
}

// finishProbe asks the model once whether a guard-satisfied branch can
// conclude. Outside the normal candidate protocol; the returned finish is
// still subject to the same guard by construction (only called on satisfied
// branches). Returns "" when the model declines or misbehaves.
func (e *Engine) finishProbe(ctx context.Context, rs *runState, userText string, node *Branch) string {
	raw, err := e.generate(ctx, rs, finishProbePrompt(userText, node))
	if err != nil {
		if isTimeout(err) {
			e.logger.Debug("finish probe timeout; continuing search")
		} else {
			e.logger.Debug("finish probe failed; continuing search", "error", err)
		}
		return ""
	}
	rawJSON, ok := extractJSON(raw)
	if !ok {
		return ""
	}
	var st Step
	if err := json.Unmarshal(rawJSON, &st); err != nil || st.Tool != toolFinish {
		return ""
	}
	return Sanitize(st.Final)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
