package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthd/hearth/ha"
)

// FinishProbePolicy controls the early finish probe issued after scoring.
type FinishProbePolicy string

const (
	// FinishProbeOff disables the probe entirely.
	FinishProbeOff FinishProbePolicy = "off"

	// FinishProbeSurvivors probes each guard-satisfied surviving branch once
	// per round, outside the candidates-per-node budget.
	FinishProbeSurvivors FinishProbePolicy = "survivors"
)

// Config parameterizes the engine. The five reasoning architectures are
// presets over the same state machine.
type Config struct {
	Arch              string
	BeamWidth         int
	MaxDepth          int
	CandidatesPerNode int
	Temperature       float32
	FinishProbe       FinishProbePolicy

	// Reflect enables the one-shot refinement pass: when the final answer
	// looks bad, the search reruns once with a correction note.
	Reflect bool

	// Parallelism bounds concurrent branch expansion within a round.
	// Branches share no mutable state, so expansion order only matters for
	// tie-breaking, which is preserved by slot-ordered collection.
	Parallelism int
}

// Architecture preset names.
const (
	ArchStandard  = "standard"
	ArchCoT       = "cot"
	ArchReAct     = "react"
	ArchReflexion = "reflexion"
	ArchToT       = "tot"
)

// PresetConfig returns the configuration for a named architecture.
func PresetConfig(arch string) (Config, error) {
	switch arch {
	case ArchStandard:
		return Config{Arch: arch, BeamWidth: 1, MaxDepth: 1, CandidatesPerNode: 1, Temperature: 0.2, FinishProbe: FinishProbeSurvivors}, nil
	case ArchCoT:
		return Config{Arch: arch, BeamWidth: 1, MaxDepth: 2, CandidatesPerNode: 1, Temperature: 0.2, FinishProbe: FinishProbeSurvivors}, nil
	case ArchReAct:
		return Config{Arch: arch, BeamWidth: 1, MaxDepth: 3, CandidatesPerNode: 1, Temperature: 0.2, FinishProbe: FinishProbeSurvivors}, nil
	case ArchReflexion:
		return Config{Arch: arch, BeamWidth: 1, MaxDepth: 3, CandidatesPerNode: 1, Temperature: 0.2, FinishProbe: FinishProbeSurvivors, Reflect: true}, nil
	case ArchToT:
		return Config{Arch: arch, BeamWidth: 2, MaxDepth: 3, CandidatesPerNode: 3, Temperature: 0.4, FinishProbe: FinishProbeSurvivors}, nil
	default:
		return Config{}, fmt.Errorf("unknown architecture: %s", arch)
	}
}

// normalize fills zero-valued fields with safe defaults.
func (c *Config) normalize() {
	if c.BeamWidth < 1 {
		c.BeamWidth = 1
	}
	if c.MaxDepth < 1 {
		c.MaxDepth = 1
	}
	if c.CandidatesPerNode < 1 {
		c.CandidatesPerNode = 1
	}
	if c.FinishProbe == "" {
		c.FinishProbe = FinishProbeSurvivors
	}
	if c.Parallelism < 1 {
		c.Parallelism = 4
	}
}

// Recorder receives engine events for metrics export. All methods must be
// safe for concurrent use.
type Recorder interface {
	RecordLLMCall(duration time.Duration, timedOut bool)
	RecordToolCall(tool string, failed bool)
	RecordGuardRejection(intent string)
}

// Result is the outcome of one engine run.
type Result struct {
	Answer     string
	Intent     Intent
	Arch       string
	LLMCalls   int
	ToolCalls  int
	DurationMs int64
}

// Engine is the beam-search controller. It exclusively owns the frontier for
// the duration of a Run call; no branch outlives the call that created it.
// Two concurrent Run calls are fully independent.
type Engine struct {
	cfg      Config
	llm      Generator
	backend  ha.Backend
	logger   *slog.Logger
	recorder Recorder
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The engine never reads ambient debug
// state; tracing goes through this logger only.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an Engine over the given language model and backend.
func New(cfg Config, llm Generator, backend ha.Backend, opts ...Option) *Engine {
	cfg.normalize()
	e := &Engine{
		cfg:     cfg,
		llm:     llm,
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState holds per-run counters. Atomics because branch expansion within a
// round may run concurrently.
type runState struct {
	llmCalls  atomic.Int64
	toolCalls atomic.Int64
}

// Run executes the guarded plan/execute search for one user request and
// returns a sanitized single-sentence answer. All failure modes degrade to a
// short clarifying question or a generic completion sentence; raw errors are
// never shown to the caller.
func (e *Engine) Run(ctx context.Context, userText string) (*Result, error) {
	startTime := time.Now()
	intent := ClassifyIntent(userText)
	rs := &runState{}

	e.logger.Info("engine: run started",
		"arch", e.cfg.Arch, "intent", string(intent),
		"beam", e.cfg.BeamWidth, "max_depth", e.cfg.MaxDepth, "k", e.cfg.CandidatesPerNode)

	answer := e.search(ctx, rs, intent, userText, "")

	// Reflexion post-pass: one corrected attempt when the answer looks bad.
	if e.cfg.Reflect && looksBad(answer) {
		e.logger.Info("engine: answer looks bad; running one reflection pass", "answer", answer)
		note := "Your previous answer may be wrong or incomplete: " + answer +
			". Fix it with ONE corrected attempt; complete the required tool calls first."
		if refined := e.search(ctx, rs, intent, userText, note); refined != "" && !looksBad(refined) {
			answer = refined
		}
	}

	res := &Result{
		Answer:     answer,
		Intent:     intent,
		Arch:       e.cfg.Arch,
		LLMCalls:   int(rs.llmCalls.Load()),
		ToolCalls:  int(rs.toolCalls.Load()),
		DurationMs: time.Since(startTime).Milliseconds(),
	}
	e.logger.Info("engine: run finished",
		"answer", res.Answer, "llm_calls", res.LLMCalls,
		"tool_calls", res.ToolCalls, "duration_ms", res.DurationMs)
	return res, nil
}

// search runs the full beam search once. reflectNote, when non-empty, is
// appended to the planner's view of the request during a reflection pass.
func (e *Engine) search(ctx context.Context, rs *runState, intent Intent, userText, reflectNote string) string {
	plannerText := userText
	if reflectNote != "" {
		plannerText = userText + "\n\n" + reflectNote
	}

	frontier := []*Branch{newRootBranch()}

	for depth := 1; depth <= e.cfg.MaxDepth; depth++ {
		e.logger.Debug("engine: expanding frontier", "depth", depth, "branches", len(frontier))

		pooled, finish := e.expandFrontier(ctx, rs, intent, userText, plannerText, frontier, depth)
		if finish != "" {
			return finish
		}
		if len(pooled) == 0 {
			e.logger.Debug("engine: no candidates to expand; stopping", "depth", depth)
			break
		}

		kept, scores := rankBranches(intent, pooled, userText, e.cfg.BeamWidth)
		frontier = kept
		e.logger.Debug("engine: frontier pruned", "depth", depth, "kept", len(kept), "scores", scores)

		if e.cfg.FinishProbe == FinishProbeSurvivors {
			for _, node := range frontier {
				if !guardSatisfied(intent, node) {
					continue
				}
				if final := e.finishProbe(ctx, rs, plannerText, node); final != "" {
					e.logger.Debug("engine: early finish accepted", "depth", depth)
					return final
				}
			}
		}
	}

	return e.fallbackAnswer(intent, userText, frontier)
}

// expandFrontier runs one round: every live branch gets one planner call and
// its accepted candidates are executed into child branches. All children
// across all parents are pooled; parents are discarded. The first accepted
// finish (in frontier order) wins and short-circuits the round's result.
func (e *Engine) expandFrontier(ctx context.Context, rs *runState, intent Intent, userText, plannerText string, frontier []*Branch, depth int) ([]*Branch, string) {
	type slot struct {
		children []*Branch
		finish   string
	}
	slots := make([]slot, len(frontier))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Parallelism)
	for i, node := range frontier {
		i, node := i, node
		g.Go(func() error {
			children, finish := e.expandBranch(ctx, rs, intent, userText, plannerText, node, depth)
			slots[i] = slot{children: children, finish: finish}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // expansion never returns errors

	var pooled []*Branch
	for _, s := range slots {
		if s.finish != "" {
			return nil, s.finish
		}
		pooled = append(pooled, s.children...)
	}
	return pooled, ""
}

// expandBranch plans and executes one round for a single branch.
func (e *Engine) expandBranch(ctx context.Context, rs *runState, intent Intent, userText, plannerText string, node *Branch, depth int) ([]*Branch, string) {
	steps := e.proposeSteps(ctx, rs, plannerText, node)
	if len(steps) == 0 {
		return nil, ""
	}

	// Filter: structural dedupe, then guard check. A rejected finish becomes
	// a guard-note branch that stays in the pool; it competes in scoring but
	// cannot terminate.
	var children []*Branch
	var accepted []Step
	seen := make(map[string]bool, len(steps))
	for _, st := range steps {
		k := st.key()
		if seen[k] {
			continue
		}
		seen[k] = true

		if reason := checkFinishGuard(intent, node.DidDetails, node.DidService, st); reason != "" {
			e.recordGuardRejection(intent)
			e.logger.Debug("engine: finish blocked by guard", "depth", depth, "reason", reason)
			child := node.child(depth)
			child.append("GUARD:" + reason)
			children = append(children, child)
			continue
		}
		accepted = append(accepted, st)
	}

	// Operative tools before ask_user; stable within a priority class.
	sort.SliceStable(accepted, func(i, j int) bool {
		return stepPriority(accepted[i].Tool) < stepPriority(accepted[j].Tool)
	})

	for _, st := range accepted {
		child, finish := e.executeStep(ctx, rs, userText, intent, node, depth, st)
		if finish != "" {
			return nil, finish
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children, ""
}

func guardSatisfied(intent Intent, b *Branch) bool {
	if intent == IntentAction {
		return b.DidService
	}
	return b.DidDetails
}

// fallbackAnswer synthesizes a minimal deterministic sentence when the depth
// budget runs out without an accepted finish.
func (e *Engine) fallbackAnswer(intent Intent, userText string, frontier []*Branch) string {
	if len(frontier) == 0 {
		return "I'm not sure yet. Please specify the device."
	}

	best := frontier[0]
	bestScore := scoreBranch(intent, best, userText)
	for _, b := range frontier[1:] {
		if s := scoreBranch(intent, b, userText); s > bestScore {
			best, bestScore = b, s
		}
	}

	if intent == IntentAction && best.DidService {
		obs := best.LastObs
		if obs != nil && obs.EntityID != "" {
			name := displayNameFromID(obs.EntityID)
			switch obs.Service {
			case "turn_on":
				return name + " turned on."
			case "turn_off":
				return name + " turned off."
			}
		}
		return "Action completed."
	}
	if intent == IntentStatus && best.DidDetails {
		if obs := best.LastObs; obs != nil && len(obs.Details) > 0 {
			d := obs.Details[0]
			name := d.Name
			if name == "" {
				name = d.EntityID
			}
			if d.State != "" {
				return fmt.Sprintf("%s is %s.", name, strings.ToLower(d.State))
			}
		}
		return "Status read."
	}
	return "I'm not sure yet. Please specify the device."
}

// displayNameFromID turns "light.kitchen_lights" into "Kitchen Lights".
func displayNameFromID(entityID string) string {
	tail := entityID
	if i := strings.LastIndexByte(entityID, '.'); i >= 0 {
		tail = entityID[i+1:]
	}
	words := strings.Fields(strings.ReplaceAll(tail, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "Device"
	}
	return strings.Join(words, " ")
}

// looksBad flags answers worth one reflection pass: empty text or text that
// leaks an error state.
func looksBad(answer string) bool {
	t := strings.ToLower(strings.TrimSpace(answer))
	if t == "" {
		return true
	}
	for _, tok := range []string{"error", "invalid", "failed", "cannot", "unknown", "not found"} {
		if strings.Contains(t, tok) {
			return true
		}
	}
	return false
}

// ---- instrumented collaborator calls ----

func (e *Engine) generate(ctx context.Context, rs *runState, prompt string) (string, error) {
	rs.llmCalls.Add(1)
	start := time.Now()
	out, err := e.llm.Generate(ctx, prompt, e.cfg.Temperature)
	if e.recorder != nil {
		e.recorder.RecordLLMCall(time.Since(start), isTimeout(err))
	}
	return out, err
}

func (e *Engine) listEntities(ctx context.Context, rs *runState, domain string) ([]ha.Entity, error) {
	rs.toolCalls.Add(1)
	entities, err := e.backend.ListEntities(ctx, domain)
	if e.recorder != nil {
		e.recorder.RecordToolCall(toolListDomain, err != nil)
	}
	return entities, err
}

func (e *Engine) getDetails(ctx context.Context, rs *runState, entityIDs []string) ([]ha.Detail, error) {
	rs.toolCalls.Add(1)
	details, err := e.backend.GetDetails(ctx, entityIDs)
	if e.recorder != nil {
		e.recorder.RecordToolCall(toolGetDetails, err != nil)
	}
	return details, err
}

func (e *Engine) callService(ctx context.Context, rs *runState, domain, service, entityID string, data map[string]any) error {
	rs.toolCalls.Add(1)
	err := e.backend.CallService(ctx, domain, service, entityID, data)
	if e.recorder != nil {
		e.recorder.RecordToolCall(toolCallService, err != nil)
	}
	return err
}

func (e *Engine) recordGuardRejection(intent Intent) {
	if e.recorder != nil {
		e.recorder.RecordGuardRejection(string(intent))
	}
}
