package state

import (
	"fmt"
	"strings"
	"time"

	"meetingflow/internal/services"
)

// Stage is a processing checkpoint. Each stage names the durable output that
// exists once it is reached.
type Stage string

// Stages in pipeline order, plus the failure marker.
const (
	StageDiscovered  Stage = "discovered"
	StageSegmented   Stage = "segmented"
	StageTranscribed Stage = "transcribed"
	StageAnalyzed    Stage = "analyzed"
	StageExtracted   Stage = "extracted"
	StageArchived    Stage = "archived"
	StageFailed      Stage = "failed"
)

var order = []Stage{StageDiscovered, StageSegmented, StageTranscribed, StageAnalyzed, StageExtracted, StageArchived}

// Stages returns the pipeline stages in order, excluding failed.
func Stages() []Stage {
	return append([]Stage(nil), order...)
}

// ParseStage converts a label into a Stage.
func ParseStage(value string) (Stage, bool) {
	v := Stage(strings.ToLower(strings.TrimSpace(value)))
	if v == StageFailed {
		return v, true
	}
	for _, s := range order {
		if s == v {
			return s, true
		}
	}
	return "", false
}

// Successor returns the stage that follows s.
func Successor(s Stage) (Stage, bool) {
	for i, candidate := range order {
		if candidate == s && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// ProcessingState is the ledger entry for one fingerprint.
type ProcessingState struct {
	Fingerprint   string    `json:"fingerprint"`
	Path          string    `json:"path"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	RecordedAt    time.Time `json:"recorded_at"`
	Stage         Stage     `json:"stage"`
	LastCompleted Stage     `json:"last_completed"`
	FailedStage   Stage     `json:"failed_stage,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Permanent     bool      `json:"permanent"`
	// Retries counts failures per stage. The key is the stage that was being
	// attempted, not the last completed one.
	Retries        map[Stage]int    `json:"retries,omitempty"`
	Artifacts      map[Stage]string `json:"artifacts,omitempty"`
	ResumeIndex    int              `json:"resume_index"`
	ClaimOwner     string           `json:"claim_owner,omitempty"`
	ClaimHeartbeat *time.Time       `json:"claim_heartbeat,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NextStage returns the stage the pipeline would run next, or "" when
// archived.
func (p ProcessingState) NextStage() Stage {
	next, _ := Successor(p.LastCompleted)
	return next
}

// Claimed reports whether a live claim exists at now.
func (p ProcessingState) Claimed(now time.Time, timeout time.Duration) bool {
	if p.ClaimOwner == "" || p.ClaimHeartbeat == nil {
		return false
	}
	return now.Sub(*p.ClaimHeartbeat) < timeout
}

// StateConflictError rejects an advance that is not the immediate successor
// of the last completed stage.
type StateConflictError struct {
	Fingerprint string
	From        Stage
	To          Stage
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict for %s: cannot advance from %s to %s", e.Fingerprint, e.From, e.To)
}

func (e *StateConflictError) Unwrap() error { return services.ErrStateConflict }

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Stages       []Stage
	Fingerprints []string
	// FailedOnly matches records whose current stage is failed.
	FailedOnly bool
	Limit      int
}

// RetriesExhausted reports whether a failed record should wait for an
// operator: it failed permanently or its failing stage hit maxRetries.
func (p ProcessingState) RetriesExhausted(maxRetries int) bool {
	if p.Stage != StageFailed {
		return false
	}
	if p.Permanent {
		return true
	}
	return maxRetries > 0 && p.Retries[p.FailedStage] >= maxRetries
}
