package llmcorrect

import "strings"

// anchor pairs the index of a token common to both sequences.
type anchor struct {
	orig, corr int
}

// tokenLCS returns the anchors of the longest common token subsequence of a
// and b, in order. Transcript sentences are short, so O(m×n) is fine.
func tokenLCS(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	k := dp[m][n]
	if k == 0 {
		return nil
	}
	out := make([]anchor, k)
	for i, j := m, n; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			k--
			out[k] = anchor{orig: i - 1, corr: j - 1}
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return out
}

// normalizeForLookup lowercases s and strips trailing punctuation so that a
// span like "Wispers." matches a correction declared as "Wispers".
func normalizeForLookup(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}

// verifyCorrectedText keeps only the changes between original and corrected
// that match a declared correction; every other changed span is reverted.
// It returns the verified text and the confirmed corrections.
func verifyCorrectedText(original, corrected string, declared []Correction) (string, []Correction) {
	if original == corrected {
		return original, nil
	}

	origTokens := strings.Fields(original)
	corrTokens := strings.Fields(corrected)

	type key struct{ orig, corr string }
	lookup := make(map[key]Correction, len(declared))
	for _, c := range declared {
		lookup[key{normalizeForLookup(c.Original), normalizeForLookup(c.Corrected)}] = c
	}

	var (
		result   []string
		verified []Correction
	)
	resolve := func(orig, corr []string) {
		if len(orig) == 0 && len(corr) == 0 {
			return
		}
		k := key{normalizeForLookup(strings.Join(orig, " ")), normalizeForLookup(strings.Join(corr, " "))}
		if c, ok := lookup[k]; ok {
			result = append(result, corr...)
			verified = append(verified, c)
			return
		}
		result = append(result, orig...)
	}

	oi, ci := 0, 0
	for _, a := range tokenLCS(origTokens, corrTokens) {
		resolve(origTokens[oi:a.orig], corrTokens[ci:a.corr])
		result = append(result, origTokens[a.orig])
		oi, ci = a.orig+1, a.corr+1
	}
	resolve(origTokens[oi:], corrTokens[ci:])

	return strings.Join(result, " "), verified
}
