package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sleuth/internal/events"
	"sleuth/internal/orchestrator"
	"sleuth/internal/plan"
	"sleuth/internal/session"
	"sleuth/internal/types"
)

func TestRenderEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   events.Event
		want []string
	}{
		{
			name: "node",
			ev: events.Event{Type: events.NodeStateChanged, NodeID: "financial/filings", Time: at,
				Payload: events.NodePayload{From: "failed", To: "ready", Attempts: 2, Reason: "retry"}},
			want: []string{"09:30:00", "ready", "financial/filings", "retry", "attempt 2"},
		},
		{
			name: "finding",
			ev: events.Event{Type: events.FindingAdded, Time: at,
				Payload: events.FindingPayload{Subject: "Acme Corp", Attribute: "revenue", Claim: "$10M", SourceURL: "https://sec.gov/x", Confidence: 0.8}},
			want: []string{"Acme Corp.revenue = $10M", "sec.gov", "0.80"},
		},
		{
			name: "conflict",
			ev: events.Event{Type: events.ConflictDetected, Time: at,
				Payload: events.ConflictPayload{Subject: "Acme Corp", Attribute: "revenue", Severity: "high", Members: []string{"a", "b"}}},
			want: []string{"conflict", "high", "2 findings"},
		},
		{
			name: "resolved",
			ev: events.Event{Type: events.ConflictResolved, Time: at,
				Payload: events.ConflictPayload{Subject: "Acme Corp", Attribute: "revenue", ResolvedBy: "f3"}},
			want: []string{"resolved", "by f3"},
		},
		{
			name: "failed session",
			ev: events.Event{Type: events.SessionFailed, Time: at,
				Payload: events.SessionPayload{Status: "failed", Reason: "cancelled"}},
			want: []string{"failed: cancelled"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderEvent(&buf, tt.ev)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestRenderEventIgnoresUnknownPayload(t *testing.T) {
	var buf bytes.Buffer
	renderEvent(&buf, events.Event{Type: "custom", Payload: 42})
	assert.Empty(t, buf.String())
}

func TestRenderOutcome(t *testing.T) {
	var buf bytes.Buffer
	renderOutcome(&buf, &orchestrator.Outcome{
		SessionID: "s-1",
		Status:    session.StatusPaused,
		Reason:    "session timeout",
		Nodes:     map[plan.NodeState]int{plan.StateCompleted: 3, plan.StatePending: 2},
		FailedNodes: []*plan.TaskNode{
			{ID: "legal/lawsuits", LastError: &plan.NodeError{Kind: plan.ErrorTimeout, Message: "deadline"}},
		},
		OpenConflicts: []types.Conflict{{Subject: "Acme Corp", Attribute: "revenue", Severity: types.SeverityHigh, MemberFindingIDs: []string{"a", "b"}}},
		Aggregate:     &types.ConfidenceScore{Value: 0.61},
		Findings:      7,
	})
	out := buf.String()
	for _, w := range []string{"s-1", "paused", "session timeout", "3 completed", "2 pending", "Findings:   7", "0.61", "legal/lawsuits", "open conflict", "Acme Corp.revenue"} {
		assert.Contains(t, out, w)
	}
}

func TestRenderSummariesEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderSummaries(&buf, nil)
	assert.Equal(t, "No saved sessions found.\n", buf.String())
}
