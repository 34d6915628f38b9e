package textutil

// ShortTextTokens is the token count below which cosine similarity is too
// noisy and TextSimilarity falls back to normalized equality.
const ShortTextTokens = 3

// CosineSimilarity computes the cosine similarity between two fingerprints.
// Returns 0 if either fingerprint is nil or has zero norm.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, count := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}
	sim := dot / (a.norm * b.norm)
	if sim > 1 {
		return 1
	}
	return sim
}

// TextSimilarity scores two utterance texts in [0,1]. Texts with fewer than
// ShortTextTokens tokens on either side compare by normalized equality.
func TextSimilarity(a, b string) float64 {
	fa, fb := NewFingerprint(a), NewFingerprint(b)
	if fa.TokenCount() < ShortTextTokens || fb.TokenCount() < ShortTextTokens {
		na, nb := NormalizeText(a), NormalizeText(b)
		if na != "" && na == nb {
			return 1
		}
		return 0
	}
	return CosineSimilarity(fa, fb)
}
