package testsupport

import (
	"context"
	"testing"

	"meetingflow/internal/config"
	"meetingflow/internal/meeting"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Discover records a recording in the tracker for tests.
func Discover(t testing.TB, tracker *state.Tracker, path, fingerprint string) *state.ProcessingState {
	t.Helper()

	st, _, err := tracker.Discover(context.Background(), meeting.Recording{Path: path, Fingerprint: fingerprint})
	if err != nil {
		t.Fatalf("tracker.Discover: %v", err)
	}
	return st
}
