// Package textutil provides text comparison helpers: token fingerprints with
// cosine similarity, normalized equality for short phrases, an edit-distance
// ratio for name matching, and filename sanitization for rendered notes.
//
// Tokenization lowercases text, splits on anything that is not a letter or
// digit, and drops tokens shorter than two runes.
package textutil
