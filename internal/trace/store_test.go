package trace

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "abcdef12", Fingerprint(&Trace{ID: "abcdef1234567890"}))
	assert.Equal(t, "unknown", Fingerprint(&Trace{ID: ""}))
	assert.Equal(t, "unknown", Fingerprint(nil))
	assert.Equal(t, "abc", Fingerprint(&Trace{ID: "abc"}))
}

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore(10, nil)

	id := s.StartTrace("deploy-client", "U1")
	s.RecordStep(id, "trigger", StatusOK, 120*time.Millisecond, "dispatched")
	s.RecordStep(id, "locate", StatusOK, 800*time.Millisecond, "run 42")
	s.RecordStep(id, "poll", StatusOK, 3*time.Second, "conclusion=success")
	s.FinishTrace(id, StatusOK)

	got := s.GetTrace(id)
	require.NotNil(t, got)
	assert.Equal(t, "deploy-client", got.CommandName)
	assert.Equal(t, StatusOK, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, "trigger", got.Steps[0].Name)
	assert.Equal(t, int64(3000), got.Steps[2].DurationMS)
}

func TestStore_CapacityBound(t *testing.T) {
	s := NewStore(3, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		id := s.StartTrace(fmt.Sprintf("cmd-%d", i), "U1")
		s.FinishTrace(id, StatusOK)
		ids = append(ids, id)
	}

	assert.Equal(t, 3, s.Len())
	assert.Nil(t, s.GetTrace(ids[0]), "oldest should be evicted")
	assert.Nil(t, s.GetTrace(ids[1]))
	assert.NotNil(t, s.GetTrace(ids[4]))
}

func TestStore_EvictionPrefersCompleted(t *testing.T) {
	s := NewStore(2, nil)

	running := s.StartTrace("long", "U1")
	done := s.StartTrace("fast", "U1")
	s.FinishTrace(done, StatusOK)

	// Third insert must evict the completed trace, not the running one.
	s.StartTrace("next", "U2")

	assert.NotNil(t, s.GetTrace(running))
	assert.Nil(t, s.GetTrace(done))
}

func TestStore_LastTraceFor(t *testing.T) {
	s := NewStore(10, nil)

	a := s.StartTrace("status", "U1")
	b := s.StartTrace("diagnose", "U2")
	c := s.StartTrace("status", "U1")

	got := s.LastTraceFor("U1")
	require.NotNil(t, got)
	assert.Equal(t, c, got.ID)

	got = s.LastTraceFor("U2")
	require.NotNil(t, got)
	assert.Equal(t, b, got.ID)

	got = s.LastTraceFor("")
	require.NotNil(t, got)
	assert.Equal(t, c, got.ID)

	assert.Nil(t, s.LastTraceFor("U3"))
	_ = a
}

func TestStore_StepDetailRedaction(t *testing.T) {
	s := NewStore(10, nil)

	id := s.StartTrace("set-api-base", "U1")
	s.RecordStep(id, "github_token", StatusOK, 0, "ghp_verysecret_ab12")

	got := s.GetTrace(id)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "***ab12", got.Steps[0].Detail)
}

func TestStore_UnknownTraceIgnored(t *testing.T) {
	s := NewStore(10, nil)
	s.RecordStep("missing", "x", StatusOK, 0, "")
	s.FinishTrace("missing", StatusOK)
	assert.Zero(t, s.Len())
}

func TestStore_ReadersGetCopies(t *testing.T) {
	s := NewStore(10, nil)
	id := s.StartTrace("status", "U1")
	s.RecordStep(id, "one", StatusOK, 0, "")

	got := s.GetTrace(id)
	got.Steps[0].Name = "mutated"
	got.Status = "mutated"

	fresh := s.GetTrace(id)
	assert.Equal(t, "one", fresh.Steps[0].Name)
	assert.Equal(t, StatusRunning, fresh.Status)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := NewStore(32, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := s.StartTrace("status", fmt.Sprintf("U%d", n))
			for j := 0; j < 10; j++ {
				s.RecordStep(id, "step", StatusOK, time.Millisecond, "")
			}
			s.FinishTrace(id, StatusOK)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, s.Len())
}
