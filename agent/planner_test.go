package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			"clean array",
			`[{"tool":"finish","final":"Done."}]`,
			`[{"tool":"finish","final":"Done."}]`,
			true,
		},
		{
			"array inside prose",
			`Sure, here is my plan: [{"tool":"ask_user","message":"Which device?"}] hope that helps`,
			`[{"tool":"ask_user","message":"Which device?"}]`,
			true,
		},
		{
			"object inside code fence",
			"```json\n{\"tool\":\"finish\",\"final\":\"Done.\"}\n```",
			`{"tool":"finish","final":"Done."}`,
			true,
		},
		{
			"think block removed first",
			`<think>{"not":"this"}</think>[{"tool":"finish","final":"ok"}]`,
			`[{"tool":"finish","final":"ok"}]`,
			true,
		},
		{
			"trailing comma repaired",
			`[{"tool":"finish","final":"Done.",}]`,
			`[{"tool":"finish","final":"Done."}]`,
			true,
		},
		{"no json at all", "I cannot decide on a next step.", "", false},
		{"unrepairable", `[{"tool": finish}]`, "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.in)
			if ok != tt.ok {
				t.Fatalf("extractJSON(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && string(got) != tt.want {
				t.Errorf("extractJSON(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeSteps(t *testing.T) {
	raw := json.RawMessage(`[
		{"tool":"get_entities_by_domain_tool","args":{"domain":"light"}},
		{"tool":"finish","final":"Done."},
		{"final":"missing tool tag"}
	]`)
	steps := decodeSteps(raw)
	if len(steps) != 2 {
		t.Fatalf("decodeSteps() returned %d steps, want 2", len(steps))
	}
	if steps[0].Tool != toolListDomain || steps[0].Args.Domain != "light" {
		t.Errorf("unexpected first step: %+v", steps[0])
	}
	if steps[1].Tool != toolFinish || steps[1].Final != "Done." {
		t.Errorf("unexpected second step: %+v", steps[1])
	}

	// A lone object is accepted as a one-element plan.
	single := decodeSteps(json.RawMessage(`{"tool":"ask_user","message":"Which one?"}`))
	if len(single) != 1 || single[0].Tool != toolAskUser {
		t.Errorf("decodeSteps(object) = %+v, want one ask_user step", single)
	}

	if got := decodeSteps(json.RawMessage(`"just a string"`)); got != nil {
		t.Errorf("decodeSteps(string) = %+v, want nil", got)
	}
}

func TestProposeStepsTimeoutDegradesToAskUser(t *testing.T) {
	gen := &mockGenerator{script: func(int, string) (string, error) {
		return "", context.DeadlineExceeded
	}}
	cfg, _ := PresetConfig(ArchToT) //nolint:errcheck // known preset
	e := New(cfg, gen, &mockBackend{})

	steps := e.proposeSteps(context.Background(), &runState{}, "turn on the light", newRootBranch())
	if len(steps) != 1 || steps[0].Tool != toolAskUser {
		t.Fatalf("proposeSteps on timeout = %+v, want single ask_user", steps)
	}
}

func TestProposeStepsParseFailureDropsBranch(t *testing.T) {
	gen := &mockGenerator{script: func(int, string) (string, error) {
		return "no json here", nil
	}}
	cfg, _ := PresetConfig(ArchToT) //nolint:errcheck // known preset
	e := New(cfg, gen, &mockBackend{})

	if steps := e.proposeSteps(context.Background(), &runState{}, "turn on the light", newRootBranch()); steps != nil {
		t.Fatalf("proposeSteps on garbage = %+v, want nil", steps)
	}
}

func TestProposeStepsCapsAtCandidateBudget(t *testing.T) {
	var plan []Step
	for i := 0; i < 6; i++ {
		plan = append(plan, Step{Tool: toolListDomain, Args: StepArgs{Domain: allDomains[i]}})
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		t.Fatal(err)
	}
	gen := &mockGenerator{script: func(int, string) (string, error) {
		return string(raw), nil
	}}
	cfg, _ := PresetConfig(ArchToT) //nolint:errcheck // known preset
	e := New(cfg, gen, &mockBackend{})

	steps := e.proposeSteps(context.Background(), &runState{}, "list things", newRootBranch())
	if len(steps) != cfg.CandidatesPerNode {
		t.Fatalf("proposeSteps returned %d steps, want %d", len(steps), cfg.CandidatesPerNode)
	}
}

func TestPlannerPromptWindowsTranscript(t *testing.T) {
	node := newRootBranch()
	for i := 0; i < 12; i++ {
		node.append(fmt.Sprintf("ACTION:step-%02d done", i))
	}
	prompt := plannerPrompt("turn on the light", node, 3)
	if strings.Contains(prompt, "ACTION:step-03 done") {
		t.Error("prompt should not contain entries older than the window")
	}
	if !strings.Contains(prompt, "ACTION:step-11 done") {
		t.Error("prompt should contain the most recent transcript entry")
	}
}

func TestIsTimeout(t *testing.T) {
	if !isTimeout(context.DeadlineExceeded) {
		t.Error("bare deadline error should count as timeout")
	}
	if !isTimeout(errors.Join(errors.New("llm generate failed"), context.DeadlineExceeded)) {
		t.Error("wrapped deadline error should count as timeout")
	}
	if isTimeout(errors.New("boom")) {
		t.Error("generic error should not count as timeout")
	}
}
