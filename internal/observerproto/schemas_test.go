package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gemrunners.ai/internal/observerproto"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func asAny(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	subSchema := compileSchema(t, "observer_subscribe.schema.json")
	tickSchema := compileSchema(t, "observer_tick.schema.json")
	reportSchema := compileSchema(t, "observer_report.schema.json")

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		EveryTicks:      5,
		IncludeTargets:  true,
	}
	if err := subSchema.Validate(asAny(t, sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tick := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            42,
		Live:            3,
		Carried:         1,
		Delivered:       2,
		Waiting:         1,
		Agents: []observerproto.AgentState{
			{ID: 0, Color: "red", State: "MOVING_TO_TARGET", Cell: [2]int{1, 2}, Pos: [2]float64{1.5, 2.25}, Moves: 9, Target: &[2]int{4, 4}},
			{ID: 1, Color: "blue", State: "RETURNING_HOME", Cell: [2]int{7, 0}, Pos: [2]float64{7.5, 0.5}, Carrying: true, Delivered: 2, Moves: 30, WaitTicks: 3},
		},
		Targets:   []observerproto.TargetState{{ID: 3, Color: "green", Cell: [2]int{5, 5}}},
		Conflicts: []observerproto.ConflictInfo{{Winner: 1, Loser: 0}},
	}
	if err := tickSchema.Validate(asAny(t, tick)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	report := observerproto.ReportMsg{
		Type:            observerproto.TypeReport,
		ProtocolVersion: observerproto.Version,
		Tick:            900,
		Reason:          "ALL_COLLECTED",
		Collected:       21,
		Initial:         21,
		SuccessPct:      100,
		Success:         true,
		TotalMoves:      640,
		Efficiency:      6.67,
		ElapsedTicks:    900,
	}
	if err := reportSchema.Validate(asAny(t, report)); err != nil {
		t.Fatalf("report: %v", err)
	}
}

func TestSchemas_RejectMalformed(t *testing.T) {
	tickSchema := compileSchema(t, "observer_tick.schema.json")

	var bad any
	_ = json.Unmarshal([]byte(`{
	  "type":"TICK",
	  "protocol_version":"1.0",
	  "tick":1,"live":1,"carried":0,"delivered":0,"waiting":0,
	  "agents":[{"id":0,"color":"purple","state":"EXPLORING","cell":[0,0],"pos":[0.5,0.5],"carrying":false,"delivered":0,"moves":0}]
	}`), &bad)
	if err := tickSchema.Validate(bad); err == nil {
		t.Fatalf("expected unknown color to be rejected")
	}

	var missing any
	_ = json.Unmarshal([]byte(`{"type":"TICK","protocol_version":"1.0","tick":1}`), &missing)
	if err := tickSchema.Validate(missing); err == nil {
		t.Fatalf("expected missing counts to be rejected")
	}
}
