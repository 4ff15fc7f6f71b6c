package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestExecutionRecordJSONRoundTrip(t *testing.T) {
	started := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	record := ExecutionRecord{
		ID:        "run-1",
		GraphID:   "graph-7",
		Status:    RunRunning,
		StartedAt: started,
		Invocations: []Invocation{
			{
				NodeID:       "extract",
				ModelID:      "summarizer-v2",
				Input:        MapValue(map[string]Value{"text": StringValue("hello")}),
				Output:       MapValue(map[string]Value{"summary": StringValue("hi")}),
				LatencyMS:    812,
				Attempts:     1,
				Status:       InvocationSuccess,
				CostEstimate: 0.0021,
			},
			{
				NodeID:    "classify",
				ModelID:   "labeler",
				Input:     StringValue("hi"),
				Err:       UpstreamFailure(503, "service unavailable"),
				LatencyMS: 1204,
				Attempts:  3,
				Status:    InvocationError,
			},
		},
	}
	record.Finish(RunFailed, started.Add(2*time.Second))

	encoded, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded ExecutionRecord
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(record, decoded) {
		t.Fatalf("round trip mismatch:\n  sent: %+v\n  got:  %+v", record, decoded)
	}
}

func TestExecutionRecordFinishDerivesTotals(t *testing.T) {
	started := time.Now()
	record := ExecutionRecord{ID: "run-2", Status: RunRunning, StartedAt: started}
	record.Invocations = append(record.Invocations,
		Invocation{ModelID: "a", Status: InvocationSuccess, CostEstimate: 0.5},
		Invocation{ModelID: "b", Status: InvocationSuccess, CostEstimate: 0.25},
	)

	record.Finish(RunCompleted, started.Add(1500*time.Millisecond))

	if record.Status != RunCompleted {
		t.Fatalf("expected completed, got %s", record.Status)
	}
	if record.TotalLatencyMS != 1500 {
		t.Fatalf("expected total latency 1500ms, got %d", record.TotalLatencyMS)
	}
	if record.TotalCost != 0.75 {
		t.Fatalf("expected total cost 0.75, got %f", record.TotalCost)
	}
	if record.CompletedAt == nil {
		t.Fatalf("completion timestamp missing")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	record := ExecutionRecord{
		ID:          "run-3",
		Status:      RunCompleted,
		Invocations: []Invocation{{ModelID: "a", Err: TimeoutError("slow")}},
		Annotation:  CancelledError("deadline"),
	}

	clone := record.Clone()
	clone.Invocations[0].Err.Detail = "changed"
	clone.Annotation.Detail = "changed"

	if record.Invocations[0].Err.Detail != "slow" {
		t.Fatalf("clone shares invocation error with original")
	}
	if record.Annotation.Detail != "deadline" {
		t.Fatalf("clone shares annotation with original")
	}
}

func TestErrorKindClassification(t *testing.T) {
	cases := []struct {
		err       *Error
		retryable bool
		graph     bool
	}{
		{NotFoundError("m"), false, false},
		{ValidationError("input.text", "required property missing"), false, false},
		{TimeoutError("deadline exceeded"), true, false},
		{UpstreamFailure(500, "boom"), true, false},
		{&Error{Kind: KindGraphCycle, Detail: "cycle"}, false, true},
		{CancelledError("caller gave up"), false, false},
	}

	for _, tc := range cases {
		if tc.err.Retryable() != tc.retryable {
			t.Fatalf("%s: retryable mismatch", tc.err.Kind)
		}
		if tc.err.IsGraphError() != tc.graph {
			t.Fatalf("%s: graph classification mismatch", tc.err.Kind)
		}
		if KindOf(tc.err) != tc.err.Kind {
			t.Fatalf("%s: KindOf failed to recover kind", tc.err.Kind)
		}
	}
}
