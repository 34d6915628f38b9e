package entities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"meetingflow/internal/lockset"
	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/services"
	"meetingflow/internal/textutil"
)

// DefaultFuzzyThreshold is the minimum edit ratio for a fuzzy match.
const DefaultFuzzyThreshold = 0.85

// ErrDuplicate is returned by a Registry when a create would violate the
// per-type uniqueness of normalized names.
var ErrDuplicate = errors.New("entity already exists")

// Registry persists entity identities.
type Registry interface {
	// Candidates returns every entity of the type with its aliases.
	Candidates(ctx context.Context, t Type) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Create(ctx context.Context, rec Record) error
	// Update persists aliases, relationship fields and last_seen.
	Update(ctx context.Context, rec Record) error
	// RecordMention stores one mention per entity and fingerprint; repeats
	// are ignored.
	RecordMention(ctx context.Context, m Mention) error
}

// Match paths reported in Resolution.Matched.
const (
	MatchExact = "exact"
	MatchAlias = "alias"
	MatchFuzzy = "fuzzy"
	MatchNew   = "new"
)

// Resolution is the outcome for one mention. Skipped holds the filter reason
// when the mention was dropped.
type Resolution struct {
	Mention       meeting.EntityMention
	Type          Type
	EntityID      string
	CanonicalName string
	Matched       string
	Score         float64
	Ambiguous     bool
	Skipped       string
}

// Resolver maps mentions to stable entity identities.
type Resolver struct {
	registry  Registry
	threshold float64
	locks     lockset.Set
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the clock used for first_seen and last_seen.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a Resolver. A non-positive threshold uses
// DefaultFuzzyThreshold.
func NewResolver(registry Registry, threshold float64, opts ...Option) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFuzzyThreshold
	}
	r := &Resolver{
		registry:  registry,
		threshold: threshold,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "entities")
	return r
}

// Resolve handles each mention in order and returns one Resolution per
// mention.
func (r *Resolver) Resolve(ctx context.Context, mentions []meeting.EntityMention, rec meeting.Recording, org meeting.OrgContext) ([]Resolution, error) {
	logger := logging.WithContext(ctx, r.logger)
	out := make([]Resolution, 0, len(mentions))
	for _, mention := range mentions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := Resolution{Mention: mention}
		t, ok := ParseType(mention.TypeHint)
		if !ok {
			res.Skipped = "unknown_type"
			out = append(out, res)
			continue
		}
		res.Type = t
		normalized := Normalize(mention.Name)
		if reason := FilterReason(t, mention.Name, normalized); reason != "" {
			logger.Debug("entity mention filtered",
				logging.String("name", mention.Name),
				logging.String("reason", reason))
			res.Skipped = reason
			out = append(out, res)
			continue
		}

		unlock := r.locks.Lock(bucket(t, normalized))
		err := r.resolveOne(ctx, &res, normalized, rec, org)
		unlock()
		if err != nil {
			return out, err
		}
		if res.Ambiguous {
			logging.WarnWithContext(logger, "entity match is ambiguous", "entity_ambiguous",
				logging.Error(services.ErrEntityAmbiguity),
				logging.String("name", mention.Name),
				logging.String("entity_id", res.EntityID),
				logging.Float64("score", res.Score),
				logging.String(logging.FieldErrorHint, "add an alias or merge the entities if the pick is wrong"),
				logging.String(logging.FieldImpact, "mention linked to the most recently seen candidate"),
			)
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, res *Resolution, normalized string, rec meeting.Recording, org meeting.OrgContext) error {
	now := r.now().UTC()
	verdict := Classify(res.Type, res.Mention.Name, res.Mention.Context, org)

	// A create that loses a race against another writer re-reads and
	// matches the record that won.
	for attempt := 0; attempt < 2; attempt++ {
		candidates, err := r.registry.Candidates(ctx, res.Type)
		if err != nil {
			return fmt.Errorf("load %s entities: %w", res.Type, err)
		}
		slices.SortFunc(candidates, func(a, b Record) int { return strings.Compare(a.ID, b.ID) })

		if m, ok := r.match(candidates, normalized); ok {
			return r.applyMatch(ctx, res, m, candidates, normalized, verdict, rec, now)
		}

		record := Record{
			ID:                     NewID(res.Type, normalized),
			Type:                   res.Type,
			CanonicalName:          CanonicalName(res.Mention.Name),
			NormalizedName:         normalized,
			Relationship:           DefaultRelationship(res.Type),
			RelationshipConfidence: ConfidenceNone,
			FirstSeen:              now,
			LastSeen:               now,
		}
		if verdict.Confidence > ConfidenceNone {
			record.Relationship = verdict.Value
			record.RelationshipConfidence = verdict.Confidence
		}
		err = r.registry.Create(ctx, record)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create entity %q: %w", record.CanonicalName, err)
		}
		res.EntityID = record.ID
		res.CanonicalName = record.CanonicalName
		res.Matched = MatchNew
		res.Score = 1
		return r.recordMention(ctx, res, rec, now)
	}
	return services.Wrap(services.ErrStateConflict, "extract", "create entity",
		fmt.Sprintf("entity %q conflicts with an existing record that cannot be matched", res.Mention.Name), nil)
}

type candidateMatch struct {
	record    Record
	path      string
	score     float64
	ambiguous bool
}

// match runs the exact, alias and fuzzy passes in order. Candidates must be
// sorted by ID.
func (r *Resolver) match(candidates []Record, normalized string) (candidateMatch, bool) {
	var exact, alias, fuzzy []scored
	for _, c := range candidates {
		if c.NormalizedName == normalized {
			exact = append(exact, scored{c, 1})
			continue
		}
		best := textutil.EditRatio(normalized, c.NormalizedName)
		matchedAlias := false
		for _, a := range c.Aliases {
			an := Normalize(a)
			if an == normalized {
				matchedAlias = true
				break
			}
			best = max(best, textutil.EditRatio(normalized, an))
		}
		switch {
		case matchedAlias:
			alias = append(alias, scored{c, 1})
		case best >= r.threshold:
			fuzzy = append(fuzzy, scored{c, best})
		}
	}
	for _, pass := range []struct {
		path string
		list []scored
	}{{MatchExact, exact}, {MatchAlias, alias}, {MatchFuzzy, fuzzy}} {
		if len(pass.list) == 0 {
			continue
		}
		best, tied := pick(pass.list)
		return candidateMatch{record: best.record, path: pass.path, score: best.score, ambiguous: tied && pass.path == MatchFuzzy}, true
	}
	return candidateMatch{}, false
}

type scored struct {
	record Record
	score  float64
}

// pick orders by score, then most recent last_seen, then smallest ID. It
// reports whether the top score was shared.
func pick(list []scored) (scored, bool) {
	slices.SortStableFunc(list, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		if c := b.record.LastSeen.Compare(a.record.LastSeen); c != 0 {
			return c
		}
		return strings.Compare(a.record.ID, b.record.ID)
	})
	tied := len(list) > 1 && list[1].score == list[0].score
	return list[0], tied
}

// applyMatch updates the matched record under its own lock. Alias and fuzzy
// matches can land outside the mention's bucket, so the record is re-read
// before it is modified.
func (r *Resolver) applyMatch(ctx context.Context, res *Resolution, m candidateMatch, candidates []Record, normalized string, verdict Verdict, rec meeting.Recording, now time.Time) error {
	unlock := r.locks.Lock(recordKey(m.record.ID))
	defer unlock()
	fresh, err := r.registry.Get(ctx, m.record.ID)
	if err != nil {
		return fmt.Errorf("reload entity %s: %w", m.record.ID, err)
	}
	record := m.record
	if fresh != nil {
		record = *fresh
	}
	if m.path == MatchFuzzy || m.path == MatchAlias {
		if surface := strings.TrimSpace(res.Mention.Name); surface != "" &&
			aliasAvailable(candidates, normalized) && !hasAlias(record, normalized) {
			record.Aliases = append(record.Aliases, surface)
		}
	}
	if now.After(record.LastSeen) {
		record.LastSeen = now
	}
	stored := Verdict{Value: record.Relationship, Confidence: record.RelationshipConfidence}
	if ShouldReplace(stored, record.RelationshipPinned, verdict) {
		record.Relationship = verdict.Value
		record.RelationshipConfidence = verdict.Confidence
	}
	if err := r.registry.Update(ctx, record); err != nil {
		return fmt.Errorf("update entity %s: %w", record.ID, err)
	}
	res.EntityID = record.ID
	res.CanonicalName = record.CanonicalName
	res.Matched = m.path
	res.Score = m.score
	res.Ambiguous = m.ambiguous
	return r.recordMention(ctx, res, rec, now)
}

// aliasAvailable reports whether no entity of the type already owns the
// normalized form as canonical name or alias.
func aliasAvailable(candidates []Record, normalized string) bool {
	for _, c := range candidates {
		if c.NormalizedName == normalized {
			return false
		}
		for _, a := range c.Aliases {
			if Normalize(a) == normalized {
				return false
			}
		}
	}
	return true
}

func hasAlias(record Record, normalized string) bool {
	for _, a := range record.Aliases {
		if Normalize(a) == normalized {
			return true
		}
	}
	return false
}

func recordKey(id string) string { return "record:" + id }

func (r *Resolver) recordMention(ctx context.Context, res *Resolution, rec meeting.Recording, now time.Time) error {
	err := r.registry.RecordMention(ctx, Mention{
		EntityID:    res.EntityID,
		Fingerprint: rec.Fingerprint,
		SurfaceForm: strings.TrimSpace(res.Mention.Name),
		Context:     strings.TrimSpace(res.Mention.Context),
		SeenAt:      now,
	})
	if err != nil {
		return fmt.Errorf("record mention of %s: %w", res.EntityID, err)
	}
	return nil
}

// OverrideRelationship pins an operator-chosen relationship (or technology
// status). Automatic classification never changes a pinned value.
func (r *Resolver) OverrideRelationship(ctx context.Context, id, value string) (*Record, error) {
	record, err := r.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrNotFound, "entities", "override", "entity "+id, nil)
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if !ValidRelationship(record.Type, value) {
		return nil, services.Wrap(services.ErrValidation, "entities", "override",
			fmt.Sprintf("%q is not a valid value for a %s", value, record.Type), nil)
	}

	unlock := r.locks.Lock(recordKey(id))
	defer unlock()
	record, err = r.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrNotFound, "entities", "override", "entity "+id, nil)
	}
	record.Relationship = value
	record.RelationshipConfidence = ConfidenceExplicit
	record.RelationshipPinned = true
	if err := r.registry.Update(ctx, *record); err != nil {
		return nil, fmt.Errorf("update entity %s: %w", id, err)
	}
	r.logger.Info("entity relationship overridden",
		logging.String("entity_id", id),
		logging.String("value", value),
		logging.String(logging.FieldEventType, "entity_override"),
	)
	return record, nil
}
