package hint

import (
	"sort"
	"strings"
)

// LabelSequence lazily yields hint labels for an alphabet: every letter, then every
// letter doubled, then for each label already emitted (in emission order) each letter
// that differs from the label, prepended. The sequence never ends.
type LabelSequence struct {
	letters []string
	emitted []string
	phase   int
	letter  int
	parent  int
}

// NewLabelSequence starts a sequence over alphabet. The alphabet is upper-cased and
// must not be empty.
func NewLabelSequence(alphabet string) *LabelSequence {
	return &LabelSequence{letters: Letters(alphabet)}
}

// Letters splits an alphabet into upper-case letters, dropping repeats.
func Letters(alphabet string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range strings.ToUpper(alphabet) {
		l := string(r)
		if seen[l] || strings.TrimSpace(l) == "" {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Next returns the next label.
func (s *LabelSequence) Next() string {
	if len(s.letters) == 0 {
		panic("hint: label sequence over an empty alphabet")
	}
	var l string
	switch s.phase {
	case 0:
		l = s.letters[s.letter]
	case 1:
		l = s.letters[s.letter] + s.letters[s.letter]
	default:
		for {
			parent := s.emitted[s.parent]
			letter := s.letters[s.letter]
			if letter != parent {
				l = letter + parent
				break
			}
			s.advance()
		}
	}
	s.emitted = append(s.emitted, l)
	s.advance()
	return l
}

func (s *LabelSequence) advance() {
	s.letter++
	if s.letter < len(s.letters) {
		return
	}
	s.letter = 0
	if s.phase < 2 {
		s.phase++
		return
	}
	s.parent++
}

// Take returns the next n labels.
func (s *LabelSequence) Take(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

// Comparator orders labels by length, then letter by letter in alphabet order.
type Comparator struct {
	rank map[rune]int
}

// NewComparator returns the comparator for alphabet.
func NewComparator(alphabet string) Comparator {
	rank := make(map[rune]int)
	for i, l := range Letters(alphabet) {
		rank[[]rune(l)[0]] = i
	}
	return Comparator{rank: rank}
}

// Less reports whether a sorts before b.
func (c Comparator) Less(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) {
		return len(ra) < len(rb)
	}
	for i := range ra {
		if ra[i] != rb[i] {
			return c.rank[ra[i]] < c.rank[rb[i]]
		}
	}
	return false
}

// Sort orders labels in place.
func (c Comparator) Sort(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool { return c.Less(labels[i], labels[j]) })
}
