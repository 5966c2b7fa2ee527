package pool

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestPoolState_RegisterAndRelease(t *testing.T) {
	s := newPoolState()
	s.register(map[string][]string{"job-a": {"source-1", "source-2"}})

	must.True(t, s.inUse("source-1"))
	must.True(t, s.inUse("source-2"))

	drained := s.release("job-a", []string{"source-1", "source-2"})
	must.Eq(t, []string{"source-1", "source-2"}, drained)
	must.False(t, s.inUse("source-1"))
}

func TestPoolState_SharedHostStaysInUseUntilAllJobsRelease(t *testing.T) {
	s := newPoolState()
	s.register(map[string][]string{"job-a": {"source-1"}})
	s.register(map[string][]string{"job-b": {"source-1"}})

	drained := s.release("job-a", []string{"source-1"})
	must.Eq(t, 0, len(drained))
	must.True(t, s.inUse("source-1"))

	drained = s.release("job-b", []string{"source-1"})
	must.Eq(t, []string{"source-1"}, drained)
	must.False(t, s.inUse("source-1"))
}

func TestPoolState_RegisterClearsPendingCleanup(t *testing.T) {
	s := newPoolState()
	s.register(map[string][]string{"job-a": {"source-1"}})
	s.release("job-a", []string{"source-1"})

	e := s.hosts["source-1"]
	e.paused = true

	// Reusing the host for a new job must clear the paused/expiry state.
	s.register(map[string][]string{"job-b": {"source-1"}})
	must.False(t, e.paused)
	must.True(t, s.inUse("source-1"))
}

func TestPoolState_Status(t *testing.T) {
	s := newPoolState()
	s.register(map[string][]string{"job-a": {"source-1"}, "job-b": {"source-2"}})
	s.release("job-b", []string{"source-2"})
	s.hosts["source-2"].paused = true

	status := s.status()
	must.Eq(t, []string{"source-1"}, status.ActiveHosts)
	must.Eq(t, []string{"source-2"}, status.Paused)
	must.Eq(t, 0, len(status.PendingCleanup))
}
