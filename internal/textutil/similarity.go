package textutil

// CosineSimilarity returns 0 when either fingerprint is nil or empty.
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
	return dot / (a.norm * b.norm)
}

// Nearest returns the candidate closest to text and its similarity. Ties keep
// the earliest candidate. An empty match means nothing overlapped.
func Nearest(text string, candidates []string) (string, float64) {
	fp := NewFingerprint(text)
	if fp == nil {
		return "", 0
	}
	var (
		best  string
		score float64
	)
	for _, candidate := range candidates {
		if s := CosineSimilarity(fp, NewFingerprint(candidate)); s > score {
			best, score = candidate, s
		}
	}
	return best, score
}
