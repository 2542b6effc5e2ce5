// File: internal/agent/memory.go
package agent

import (
	"sync"
	"time"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// Memory is the append-only execution record for a single run. Records are
// never mutated or removed once appended; readers get defensive copies.
type Memory struct {
	mu  sync.RWMutex
	mem schemas.RunMemory
}

// NewMemory starts a fresh record in the running state.
func NewMemory(runID, prompt string, plan schemas.Plan) *Memory {
	return &Memory{
		mem: schemas.RunMemory{
			RunID:     runID,
			Prompt:    prompt,
			Plan:      plan,
			Status:    schemas.RunRunning,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Append adds one attempt record. Timestamps are filled in if the caller
// left them zero.
func (m *Memory) Append(rec schemas.AttemptRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	m.mem.Records = append(m.mem.Records, rec)
	m.mu.Unlock()
}

// Len reports the total number of attempts recorded so far.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mem.Records)
}

// Finish marks the run terminal. It is a no-op if the run already left the
// running state, so the first terminal transition wins.
func (m *Memory) Finish(status schemas.RunStatus, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem.Status != schemas.RunRunning {
		return
	}
	m.mem.Status = status
	m.mem.LastError = lastError
	m.mem.FinishedAt = time.Now().UTC()
}

// Snapshot returns a copy of the current run record. The records slice is
// cloned so callers cannot alter history.
func (m *Memory) Snapshot() *schemas.RunMemory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.mem
	out.Records = make([]schemas.AttemptRecord, len(m.mem.Records))
	copy(out.Records, m.mem.Records)
	return &out
}
