package matching

import (
	"math"
	"sort"
	"strings"
)

const (
	winklerPrefixScale = 0.1
	winklerPrefixCap   = 4
)

// Similarity scores two normalized strings on a 0-100 scale with two decimal
// places. It runs Jaro-Winkler on the inputs as given and again on their
// token-sorted variants, returning the maximum, so whole-word reordering
// ("SMITH JOHN" vs "JOHN SMITH") does not lower the score.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	best := jaroWinkler(a, b)
	if sorted := jaroWinkler(tokenSort(a), tokenSort(b)); sorted > best {
		best = sorted
	}
	return round2(best * 100)
}

func tokenSort(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func jaroWinkler(a, b string) float64 {
	j := jaro(a, b)

	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < winklerPrefixCap; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*winklerPrefixScale*(1-j)
}

func jaro(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	window := la
	if lb > window {
		window = lb
	}
	window = window/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, la)
	bMatched := make([]bool, lb)
	matches := 0
	for i := 0; i < la; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > lb {
			hi = lb
		}
		for j := lo; j < hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := 0; i < la; i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-float64(transpositions)/2)/m) / 3
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
