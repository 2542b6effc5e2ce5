// File: internal/agent/memory_test.go
//go:build !integration

package agent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

func TestMemoryAppendAndSnapshot(t *testing.T) {
	mem := NewMemory("run-1", "buy milk", schemas.Plan{Objective: "buy milk"})
	assert.Equal(t, schemas.RunRunning, mem.Snapshot().Status)
	assert.Equal(t, 0, mem.Len())

	mem.Append(schemas.AttemptRecord{StepIndex: 0, Attempt: 1})
	mem.Append(schemas.AttemptRecord{StepIndex: 0, Attempt: 2})
	require.Equal(t, 2, mem.Len())

	snap := mem.Snapshot()
	require.Len(t, snap.Records, 2)
	assert.False(t, snap.Records[0].Timestamp.IsZero())

	// Mutating the snapshot must not touch the live record.
	snap.Records[0].Attempt = 99
	assert.Equal(t, 1, mem.Snapshot().Records[0].Attempt)
}

func TestMemoryFirstFinishWins(t *testing.T) {
	mem := NewMemory("run-1", "buy milk", schemas.Plan{})

	mem.Finish(schemas.RunFailed, "step 0 failed")
	mem.Finish(schemas.RunSucceeded, "")

	snap := mem.Snapshot()
	assert.Equal(t, schemas.RunFailed, snap.Status)
	assert.Equal(t, "step 0 failed", snap.LastError)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestMemoryConcurrentAppends(t *testing.T) {
	mem := NewMemory("run-1", "buy milk", schemas.Plan{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mem.Append(schemas.AttemptRecord{StepIndex: i, Attempt: 1})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, mem.Len())
}
