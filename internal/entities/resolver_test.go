package entities

import (
	"context"
	"sync"
	"testing"
	"time"

	"meetingflow/internal/meeting"
)

type memRegistry struct {
	mu       sync.Mutex
	records  map[string]Record
	mentions map[string]Mention
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: map[string]Record{}, mentions: map[string]Mention{}}
}

func (m *memRegistry) Candidates(_ context.Context, t Type) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Type == t {
			r.Aliases = append([]string(nil), r.Aliases...)
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRegistry) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	r.Aliases = append([]string(nil), r.Aliases...)
	return &r, nil
}

func (m *memRegistry) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Type == rec.Type && r.NormalizedName == rec.NormalizedName {
			return ErrDuplicate
		}
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memRegistry) Update(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memRegistry) RecordMention(_ context.Context, mention Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mention.EntityID + "/" + mention.Fingerprint
	if _, ok := m.mentions[key]; !ok {
		m.mentions[key] = mention
	}
	return nil
}

func (m *memRegistry) seed(t Type, canonical string, aliases []string, lastSeen time.Time) Record {
	normalized := Normalize(canonical)
	rec := Record{
		ID: NewID(t, normalized), Type: t, CanonicalName: canonical, NormalizedName: normalized,
		Aliases: aliases, Relationship: DefaultRelationship(t), FirstSeen: lastSeen, LastSeen: lastSeen,
	}
	m.records[rec.ID] = rec
	return rec
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }
}

func company(name, context string) meeting.EntityMention {
	return meeting.EntityMention{Name: name, TypeHint: "company", Context: context}
}

func TestResolveAliasAndFuzzyDeterminism(t *testing.T) {
	reg := newMemRegistry()
	acme := reg.seed(TypeCompany, "Acme Corp", []string{"Acme"}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(reg, 0.85, WithClock(fixedClock()))
	rec := meeting.Recording{Fingerprint: "fp1"}

	got, err := r.Resolve(context.Background(), []meeting.EntityMention{
		company("ACME", ""),
		company("Acme Corp.", ""),
		company("Acme Co", ""),
	}, rec, meeting.OrgContext{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got[0].EntityID != acme.ID || got[0].Matched != MatchAlias {
		t.Fatalf("ACME resolved to %+v", got[0])
	}
	if got[1].EntityID != acme.ID || got[1].Matched != MatchExact {
		t.Fatalf("Acme Corp. resolved to %+v", got[1])
	}
	if got[2].EntityID == acme.ID || got[2].Matched != MatchNew {
		t.Fatalf("Acme Co should be a new record, got %+v", got[2])
	}
	if got[2].CanonicalName != "Acme Co" {
		t.Fatalf("canonical name = %q", got[2].CanonicalName)
	}
	if len(reg.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(reg.records))
	}
}

func TestResolveFuzzyAddsAlias(t *testing.T) {
	reg := newMemRegistry()
	seeded := reg.seed(TypeCompany, "Acme Corporation", nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(reg, 0.85, WithClock(fixedClock()))

	got, err := r.Resolve(context.Background(), []meeting.EntityMention{company("Acme Corporatoin", "")},
		meeting.Recording{Fingerprint: "fp"}, meeting.OrgContext{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got[0].EntityID != seeded.ID || got[0].Matched != MatchFuzzy {
		t.Fatalf("expected fuzzy match, got %+v", got[0])
	}
	stored := reg.records[seeded.ID]
	if len(stored.Aliases) != 1 || stored.Aliases[0] != "Acme Corporatoin" {
		t.Fatalf("expected alias recorded, got %v", stored.Aliases)
	}
	if !stored.LastSeen.Equal(fixedClock()()) {
		t.Fatalf("last_seen not updated: %v", stored.LastSeen)
	}
}

func TestResolveFuzzyTiePrefersRecent(t *testing.T) {
	reg := newMemRegistry()
	reg.seed(TypePerson, "Jon Smith", nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	recent := reg.seed(TypePerson, "Jan Smith", nil, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(reg, 0.85, WithClock(fixedClock()))

	got, err := r.Resolve(context.Background(), []meeting.EntityMention{{Name: "Jen Smith", TypeHint: "person"}},
		meeting.Recording{Fingerprint: "fp"}, meeting.OrgContext{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got[0].EntityID != recent.ID {
		t.Fatalf("expected most recent candidate, got %+v", got[0])
	}
	if !got[0].Ambiguous {
		t.Fatalf("expected ambiguity flag")
	}
}

func TestResolveFiltersFalsePositives(t *testing.T) {
	reg := newMemRegistry()
	r := NewResolver(reg, 0)
	got, err := r.Resolve(context.Background(), []meeting.EntityMention{
		{Name: "Data", TypeHint: "technology"},
		{Name: "IBM", TypeHint: "person"},
		{Name: "Bob Systems", TypeHint: "person"},
		{Name: "Team", TypeHint: "company"},
		{Name: "Mars", TypeHint: "planet"},
	}, meeting.Recording{Fingerprint: "fp"}, meeting.OrgContext{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{ReasonGeneric, ReasonAcronymPerson, ReasonBusinessTerm, ReasonCommonNoun, "unknown_type"}
	for i, reason := range want {
		if got[i].Skipped != reason {
			t.Fatalf("mention %d skipped=%q, want %q", i, got[i].Skipped, reason)
		}
	}
	if len(reg.records) != 0 {
		t.Fatalf("filtered mentions must not create records")
	}
}

func TestRelationshipNeverRegresses(t *testing.T) {
	reg := newMemRegistry()
	r := NewResolver(reg, 0, WithClock(fixedClock()))
	ctx := context.Background()
	org := meeting.OrgContext{Employer: "Globex"}

	steps := []struct {
		context string
		want    string
	}{
		{"Initech is our client for the rollout", RelationClient},
		{"Initech sent an invoice", RelationClient},
		{"Initech is their vendor now", RelationVendor},
	}
	var id string
	for i, step := range steps {
		got, err := r.Resolve(ctx, []meeting.EntityMention{company("Initech", step.context)},
			meeting.Recording{Fingerprint: "fp"}, org)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		id = got[0].EntityID
		if rel := reg.records[id].Relationship; rel != step.want {
			t.Fatalf("step %d: relationship = %q, want %q", i, rel, step.want)
		}
	}

	if _, err := r.OverrideRelationship(ctx, id, "partner"); err != nil {
		t.Fatalf("OverrideRelationship: %v", err)
	}
	if _, err := r.Resolve(ctx, []meeting.EntityMention{company("Initech", "Initech is our client again")},
		meeting.Recording{Fingerprint: "fp2"}, org); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored := reg.records[id]
	if stored.Relationship != RelationPartner || !stored.RelationshipPinned {
		t.Fatalf("override not pinned: %+v", stored)
	}
	if _, err := r.OverrideRelationship(ctx, id, "in_use"); err == nil {
		t.Fatalf("expected technology status to be rejected for a company")
	}
}

func TestResolveConcurrentCreatesOnce(t *testing.T) {
	reg := newMemRegistry()
	r := NewResolver(reg, 0)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), []meeting.EntityMention{company("Globex", "")},
				meeting.Recording{Fingerprint: "fp"}, meeting.OrgContext{})
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			ids[i] = got[0].EntityID
		}(i)
	}
	wg.Wait()
	if len(reg.records) != 1 {
		t.Fatalf("expected a single record, got %d", len(reg.records))
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent resolutions diverged: %v", ids)
		}
	}
	if len(reg.mentions) != 1 {
		t.Fatalf("expected one mention per fingerprint, got %d", len(reg.mentions))
	}
}

func TestResolveConcurrentFuzzyMatchesKeepEveryAlias(t *testing.T) {
	for round := 0; round < 20; round++ {
		reg := newMemRegistry()
		seeded := reg.seed(TypeCompany, "Globex Corporation", nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		r := NewResolver(reg, 0.85, WithClock(fixedClock()))

		// The two spellings normalize into different lock buckets.
		var wg sync.WaitGroup
		for _, name := range []string{"Globex Corporatoin", "Clobex Corporation"} {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				got, err := r.Resolve(context.Background(), []meeting.EntityMention{company(name, "")},
					meeting.Recording{Fingerprint: "fp-" + name}, meeting.OrgContext{})
				if err != nil {
					t.Errorf("Resolve(%s): %v", name, err)
					return
				}
				if got[0].EntityID != seeded.ID {
					t.Errorf("%s resolved to %+v", name, got[0])
				}
			}(name)
		}
		wg.Wait()

		stored := reg.records[seeded.ID]
		if len(stored.Aliases) != 2 {
			t.Fatalf("round %d: expected both aliases kept, got %v", round, stored.Aliases)
		}
	}
}
