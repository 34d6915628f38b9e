package entities

import (
	"regexp"
	"strings"

	"meetingflow/internal/meeting"
)

type cue struct {
	pattern *regexp.Regexp
	value   string
}

// Explicit cues are affiliation statements; inferred cues are weaker
// keywords. Patterns are matched against the lowercased context snippet.
var (
	explicitCues = []cue{
		{regexp.MustCompile(`\bour (client|customer)s?\b`), RelationClient},
		{regexp.MustCompile(`\bwe signed\b`), RelationClient},
		{regexp.MustCompile(`\b(their|our) (vendor|supplier)s?\b`), RelationVendor},
		{regexp.MustCompile(`\bwe (buy|license|purchase) from\b`), RelationVendor},
		{regexp.MustCompile(`\bour partners?\b`), RelationPartner},
		{regexp.MustCompile(`\bpartnership with\b`), RelationPartner},
	}
	inferredCues = []cue{
		{regexp.MustCompile(`\b(client|customer|account)s?\b`), RelationClient},
		{regexp.MustCompile(`\b(vendor|supplier|contractor|invoice)s?\b`), RelationVendor},
		{regexp.MustCompile(`\b(partner|reseller|alliance)s?\b`), RelationPartner},
		{regexp.MustCompile(`\b(prospect|lead|pitch|demo|proposal)s?\b`), RelationProspect},
	}
	technologyCues = []struct {
		cue
		confidence Confidence
	}{
		{cue{regexp.MustCompile(`\b(we|our team) (use|run|rely on)\b|\bin production\b|\bcurrently using\b`), StatusInUse}, ConfidenceExplicit},
		{cue{regexp.MustCompile(`\b(implementing|migrating to|rolling out|integrating)\b`), StatusImplementing}, ConfidenceExplicit},
		{cue{regexp.MustCompile(`\b(evaluating|considering|trialing|proof of concept|poc)\b`), StatusEvaluating}, ConfidenceInferred},
		{cue{regexp.MustCompile(`\b(uses?|using|running)\b`), StatusInUse}, ConfidenceInferred},
	}
)

// Classify derives a relationship verdict from a mention's context snippet
// and the employer perspective.
func Classify(t Type, surface, context string, org meeting.OrgContext) Verdict {
	text := strings.ToLower(context)
	if t == TypeTechnology {
		for _, c := range technologyCues {
			if c.pattern.MatchString(text) {
				return Verdict{Value: c.value, Confidence: c.confidence}
			}
		}
		return Verdict{Value: StatusMentioned, Confidence: ConfidenceNone}
	}

	if t == TypePerson && colleagueOf(text, org) {
		return Verdict{Value: RelationColleague, Confidence: ConfidenceExplicit}
	}
	if t == TypeCompany && org.Employer != "" && Normalize(surface) == Normalize(org.Employer) {
		return Verdict{Value: RelationColleague, Confidence: ConfidenceExplicit}
	}
	for _, c := range explicitCues {
		if c.pattern.MatchString(text) {
			return Verdict{Value: c.value, Confidence: ConfidenceExplicit}
		}
	}
	for _, c := range inferredCues {
		if c.pattern.MatchString(text) {
			return Verdict{Value: c.value, Confidence: ConfidenceInferred}
		}
	}
	return Verdict{Value: RelationUnknown, Confidence: ConfidenceNone}
}

func colleagueOf(text string, org meeting.OrgContext) bool {
	for _, domain := range org.KnownDomains {
		domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
		if domain != "" && strings.Contains(text, "@"+domain) {
			return true
		}
	}
	if strings.Contains(text, "our colleague") || strings.Contains(text, "my colleague") {
		return true
	}
	employer := strings.ToLower(strings.TrimSpace(org.Employer))
	if employer == "" {
		return false
	}
	for _, phrase := range []string{"works at ", "works for ", "from ", "joined ", "is with "} {
		if strings.Contains(text, phrase+employer) {
			return true
		}
	}
	return false
}

// ShouldReplace reports whether next may overwrite the stored verdict. A
// pinned value never changes automatically. Otherwise the new verdict must
// be strictly more confident, or explicit and different from the stored
// value.
func ShouldReplace(stored Verdict, pinned bool, next Verdict) bool {
	if pinned || next.Value == "" {
		return false
	}
	if next.Confidence > stored.Confidence {
		return true
	}
	return next.Confidence == ConfidenceExplicit && stored.Confidence == ConfidenceExplicit && next.Value != stored.Value
}
