package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is an entity category.
type Type string

// Entity types.
const (
	TypePerson     Type = "person"
	TypeCompany    Type = "company"
	TypeTechnology Type = "technology"
)

// ParseType converts a type hint into a Type.
func ParseType(value string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "person", "people":
		return TypePerson, true
	case "company", "companies", "organization":
		return TypeCompany, true
	case "technology", "technologies", "tech":
		return TypeTechnology, true
	default:
		return "", false
	}
}

// Confidence ranks relationship evidence.
type Confidence int

// Confidence levels, weakest first.
const (
	ConfidenceNone Confidence = iota
	ConfidenceInferred
	ConfidenceExplicit
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceInferred:
		return "inferred"
	case ConfidenceExplicit:
		return "explicit"
	default:
		return "none"
	}
}

// MarshalText encodes the confidence as its label.
func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText decodes a confidence label.
func (c *Confidence) UnmarshalText(text []byte) error {
	*c = ParseConfidence(string(text))
	return nil
}

// ParseConfidence converts a stored label into a Confidence.
func ParseConfidence(value string) Confidence {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "explicit":
		return ConfidenceExplicit
	case "inferred":
		return ConfidenceInferred
	default:
		return ConfidenceNone
	}
}

// Relationship values for people and companies.
const (
	RelationColleague = "colleague"
	RelationClient    = "client"
	RelationVendor    = "vendor"
	RelationPartner   = "partner"
	RelationProspect  = "prospect"
	RelationUnknown   = "unknown"
)

// Adoption status values for technologies.
const (
	StatusInUse        = "in_use"
	StatusImplementing = "implementing"
	StatusEvaluating   = "evaluating"
	StatusMentioned    = "mentioned"
)

// ValidRelationship reports whether value is legal for the entity type.
func ValidRelationship(t Type, value string) bool {
	switch t {
	case TypeTechnology:
		switch value {
		case StatusInUse, StatusImplementing, StatusEvaluating, StatusMentioned:
			return true
		}
	case TypePerson, TypeCompany:
		switch value {
		case RelationColleague, RelationClient, RelationVendor, RelationPartner, RelationProspect, RelationUnknown:
			return true
		}
	}
	return false
}

// DefaultRelationship is the value assigned before any evidence is seen.
func DefaultRelationship(t Type) string {
	if t == TypeTechnology {
		return StatusMentioned
	}
	return RelationUnknown
}

// Verdict is one relationship classification.
type Verdict struct {
	Value      string
	Confidence Confidence
}

// Record is a persisted entity identity. For technologies Relationship holds
// the adoption status.
type Record struct {
	ID                     string     `json:"id"`
	Type                   Type       `json:"type"`
	CanonicalName          string     `json:"canonical_name"`
	NormalizedName         string     `json:"normalized_name"`
	Aliases                []string   `json:"aliases,omitempty"`
	Relationship           string     `json:"relationship"`
	RelationshipConfidence Confidence `json:"relationship_confidence"`
	RelationshipPinned     bool       `json:"relationship_pinned"`
	FirstSeen              time.Time  `json:"first_seen"`
	LastSeen               time.Time  `json:"last_seen"`
	MentionCount           int        `json:"mention_count"`
}

// Mention links an entity to one recording.
type Mention struct {
	EntityID    string    `json:"entity_id"`
	Fingerprint string    `json:"fingerprint"`
	SurfaceForm string    `json:"surface_form"`
	Context     string    `json:"context,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

// namespace scopes entity UUIDv5 identifiers.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("meetingflow:entity"))

// NewID returns the stable identifier for a type and normalized name.
func NewID(t Type, normalized string) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s\x00%s", t, normalized))).String()
}
