package matcher

// Ratio returns the sequence-matching similarity 2*M/T of a and b, where M is
// the number of runes in matching blocks found by recursive longest common
// block search and T is the total rune count. Two empty strings score 1.
//
// For inputs of 200 runes or more, runes occurring in more than 1% of b are
// not used to seed blocks, but may still extend a block.
func Ratio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	m := newSequenceMatcher(ra, rb)
	return 2 * float64(m.matchedRunes()) / float64(total)
}

const autojunkMinLen = 200

type sequenceMatcher struct {
	a   []rune
	b   []rune
	b2j map[rune][]int
}

func newSequenceMatcher(a, b []rune) *sequenceMatcher {
	b2j := make(map[rune][]int)
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}
	if n := len(b); n >= autojunkMinLen {
		limit := n/100 + 1
		for r, positions := range b2j {
			if len(positions) > limit {
				delete(b2j, r)
			}
		}
	}
	return &sequenceMatcher{a: a, b: b, b2j: b2j}
}

func (m *sequenceMatcher) longestMatch(alo, ahi, blo, bhi int) (int, int, int) {
	besti, bestj, bestSize := alo, blo, 0
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		next := make(map[int]int)
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestSize {
				besti, bestj, bestSize = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}

	for besti > alo && bestj > blo && m.a[besti-1] == m.b[bestj-1] {
		besti--
		bestj--
		bestSize++
	}
	for besti+bestSize < ahi && bestj+bestSize < bhi && m.a[besti+bestSize] == m.b[bestj+bestSize] {
		bestSize++
	}
	return besti, bestj, bestSize
}

func (m *sequenceMatcher) matchedRunes() int {
	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(m.a), 0, len(m.b)}}
	matched := 0
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := m.longestMatch(s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}
