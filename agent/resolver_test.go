package agent

import (
	"reflect"
	"testing"
)

func TestScoreMatch(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		candidate string
		want      int
	}{
		{"two token hits", "turn on the kitchen lights", "light.kitchen_lights Kitchen Lights", 2}, // kitchen, lights
		{"no overlap", "start the vacuum", "light.bedroom Bedroom Light", 0},
		{"case insensitive", "KITCHEN", "light.kitchen_lights", 1},
		{"short tokens skipped", "a b kitchen", "kitchen", 1},
		{"empty query", "", "light.kitchen", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreMatch(tt.query, tt.candidate); got != tt.want {
				t.Errorf("ScoreMatch(%q, %q) = %d, want %d", tt.query, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestBestEntity(t *testing.T) {
	candidates := []EntityCandidate{
		{EntityID: "light.bedroom", Name: "Bedroom Light"},
		{EntityID: "light.kitchen_lights", Name: "Kitchen Lights"},
		{EntityID: "light.hallway", Name: "Hallway"},
	}

	if got := BestEntity("turn on the kitchen lights", candidates); got != "light.kitchen_lights" {
		t.Errorf("BestEntity() = %q, want light.kitchen_lights", got)
	}

	// Pure function: same inputs, same output.
	for i := 0; i < 10; i++ {
		if got := BestEntity("turn on the kitchen lights", candidates); got != "light.kitchen_lights" {
			t.Fatalf("BestEntity() not deterministic on call %d: %q", i, got)
		}
	}

	// No token overlap at all: unresolved, never a guess.
	if got := BestEntity("xyzzy", candidates); got != "" {
		t.Errorf("BestEntity() with no overlap = %q, want empty", got)
	}
	if got := BestEntity("anything", nil); got != "" {
		t.Errorf("BestEntity() with no candidates = %q, want empty", got)
	}
}

func TestBestEntityTiesBreakByOrder(t *testing.T) {
	candidates := []EntityCandidate{
		{EntityID: "switch.desk_lamp", Name: "Desk Lamp"},
		{EntityID: "light.desk_lamp", Name: "Desk Lamp"},
	}
	// Both score identically; the first-listed candidate must win.
	if got := BestEntity("desk lamp", candidates); got != "switch.desk_lamp" {
		t.Errorf("BestEntity() tie = %q, want switch.desk_lamp", got)
	}
}

func TestLikelyDomains(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		intent Intent
		want   []string
	}{
		{"literal domain", "turn on the light in the kitchen", IntentAction, []string{"light"}},
		{"two literal domains", "is the fan or the lock on", IntentStatus, []string{"fan", "lock"}},
		{"generic on-off action", "turn on the thing in the corner", IntentAction, []string{"light", "switch", "fan"}},
		{"status falls back to all", "what is the state of the thing", IntentStatus, allDomains},
		{"action without polarity falls back to all", "toggle the thing", IntentAction, allDomains},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LikelyDomains(tt.text, tt.intent); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LikelyDomains(%q, %s) = %v, want %v", tt.text, tt.intent, got, tt.want)
			}
		})
	}
}

func TestExpectedPolarity(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"turn on the lights", "on"},
		{"switch on the fan", "on"},
		{"open the garage", "on"},
		{"turn off the lights", "off"},
		{"close the blinds", "off"},
		{"is the light on", ""},
	}
	for _, tt := range tests {
		if got := ExpectedPolarity(tt.text); got != tt.want {
			t.Errorf("ExpectedPolarity(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
