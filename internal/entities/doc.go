// Package entities resolves person, company and technology mentions to
// stable identities.
//
// Mentions are normalized (accents stripped, case folded, honorifics and
// punctuation removed), filtered for common false positives, and matched
// against the registry by exact name, then alias, then edit-distance ratio.
// Matching for one type and leading rune is serialized so two recordings
// naming the same new entity create it once.
//
// Relationship verdicts never regress: a stored value changes only for
// strictly stronger evidence or a contradicting explicit statement, and an
// operator override pins it.
package entities
