package network

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAgentNode_BusyDerivedFromLoad(t *testing.T) {
	n := NewAgentNode(okWorker("w"), nil, 2)

	assert.Equal(t, NodeStatusActive, n.Status())
	require.True(t, n.Acquire())
	assert.Equal(t, NodeStatusActive, n.Status())
	require.True(t, n.Acquire())
	assert.Equal(t, NodeStatusBusy, n.Status())

	// At the ceiling no further slot can be taken.
	assert.False(t, n.Acquire())

	n.Release()
	assert.Equal(t, NodeStatusActive, n.Status())
}

func TestAgentNode_BusyNeverOverridesExplicitStatus(t *testing.T) {
	n := NewAgentNode(okWorker("w"), nil, 1)
	require.True(t, n.Acquire())

	n.SetStatus(NodeStatusError)
	assert.Equal(t, NodeStatusError, n.Status())

	n.SetStatus(NodeStatusInactive)
	assert.Equal(t, NodeStatusInactive, n.Status())
	assert.False(t, n.Acquire())
}

func TestAgentNode_SuccessRateMath(t *testing.T) {
	n := NewAgentNode(okWorker("w"), nil, 10)

	// Before the first execution the node is assumed reliable.
	assert.Equal(t, 1.0, n.Performance().SuccessRate)

	n.RecordExecution(100*time.Millisecond, true)
	n.RecordExecution(200*time.Millisecond, true)
	n.RecordExecution(300*time.Millisecond, false)
	n.RecordExecution(400*time.Millisecond, true)

	perf := n.Performance()
	assert.Equal(t, int64(4), perf.TotalExecutions)
	assert.Equal(t, int64(1), perf.ErrorCount)
	assert.InDelta(t, 0.75, perf.SuccessRate, 1e-9)
	assert.Equal(t, 250*time.Millisecond, perf.AvgExecutionTime)
	assert.Equal(t, 400*time.Millisecond, perf.LastExecutionTime)
}

func TestAgentNode_ScoreOrdering(t *testing.T) {
	idle := NewAgentNode(okWorker("idle"), nil, 10)
	loaded := NewAgentNode(okWorker("loaded"), nil, 10)
	for i := 0; i < 5; i++ {
		require.True(t, loaded.Acquire())
	}

	assert.Less(t, idle.Score(), loaded.Score())

	// Unreliability costs more than moderate load.
	unreliable := NewAgentNode(okWorker("unreliable"), nil, 10)
	for i := 0; i < 10; i++ {
		unreliable.RecordExecution(time.Millisecond, false)
	}
	assert.Less(t, loaded.Score(), unreliable.Score())

	// With equal load and reliability, the faster history wins.
	quick := NewAgentNode(okWorker("quick"), nil, 10)
	quick.RecordExecution(50*time.Millisecond, true)
	sluggish := NewAgentNode(okWorker("sluggish"), nil, 10)
	sluggish.RecordExecution(2*time.Second, true)
	assert.Less(t, quick.Score(), sluggish.Score())
}

func TestAgentNode_ScoreBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxLoad := rapid.IntRange(1, 100).Draw(t, "maxLoad")
		n := NewAgentNode(okWorker("w"), nil, maxLoad)

		acquired := rapid.IntRange(0, maxLoad).Draw(t, "acquired")
		for i := 0; i < acquired; i++ {
			if !n.Acquire() {
				t.Fatalf("acquire %d/%d failed", i, maxLoad)
			}
		}
		execs := rapid.IntRange(0, 20).Draw(t, "execs")
		for i := 0; i < execs; i++ {
			n.RecordExecution(
				time.Duration(rapid.Int64Range(0, int64(10*time.Second)).Draw(t, "dur")),
				rapid.Bool().Draw(t, "ok"),
			)
		}

		score := n.Score()
		if score < 0 || math.IsNaN(score) {
			t.Fatalf("score out of range: %v", score)
		}
		// Load and failure terms are bounded; only the time term can
		// push past their combined ceiling.
		if execs == 0 && score > 0.8 {
			t.Fatalf("score %v exceeds bound with no executions", score)
		}
	})
}

func TestAgentNode_WaitForDrain(t *testing.T) {
	n := NewAgentNode(okWorker("w"), nil, 5)
	require.True(t, n.Acquire())
	require.True(t, n.Acquire())

	go func() {
		time.Sleep(20 * time.Millisecond)
		n.Release()
		n.Release()
	}()

	start := time.Now()
	assert.True(t, n.WaitForDrain(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAgentNode_WaitForDrainTimeout(t *testing.T) {
	n := NewAgentNode(okWorker("w"), nil, 5)
	require.True(t, n.Acquire())

	assert.False(t, n.WaitForDrain(30*time.Millisecond))
	assert.Equal(t, 1, n.CurrentLoad())
}
