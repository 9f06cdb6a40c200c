package hint

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestLabelSequenceOrder(t *testing.T) {
	got := NewLabelSequence("asdf").Take(16)
	want := []string{
		"A", "S", "D", "F",
		"AA", "SS", "DD", "FF",
		"SA", "DA", "FA",
		"AS", "DS", "FS",
		"AD", "SD",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("labels = %v\nwant     %v", got, want)
	}
}

func TestFirstFiveSortedLabels(t *testing.T) {
	labels := NewLabelSequence("ASDF").Take(5)
	NewComparator("ASDF").Sort(labels)
	want := []string{"A", "S", "D", "F", "AA"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}
}

func TestComparator(t *testing.T) {
	c := NewComparator("ASDF")
	labels := []string{"SA", "AA", "F", "FS", "A", "DA"}
	c.Sort(labels)
	want := []string{"A", "F", "AA", "SA", "DA", "FS"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("sorted = %v, want %v", labels, want)
	}
	if c.Less("A", "A") {
		t.Error("a label is not less than itself")
	}
}

func TestLabelsAreDistinct(t *testing.T) {
	for _, alphabet := range []string{"A", "AS", "ASDF", "ASDFGHJKL"} {
		seen := make(map[string]bool)
		for i, l := range NewLabelSequence(alphabet).Take(2000) {
			if seen[l] {
				t.Fatalf("%s: label %q repeated at %d", alphabet, l, i)
			}
			seen[l] = true
		}
	}
}

func TestLongLabelsExtendEarlierLabels(t *testing.T) {
	const alphabet = "ASDF"
	letters := Letters(alphabet)
	labels := NewLabelSequence(alphabet).Take(8 * len(letters))
	index := make(map[string]int)
	for i, l := range labels {
		index[l] = i
	}
	for i, l := range labels[2*len(letters):] {
		i += 2 * len(letters)
		first, rest := l[:1], l[1:]
		j, ok := index[rest]
		if !ok || j >= i {
			t.Errorf("%q: %q was not emitted before it", l, rest)
		}
		if first == rest {
			t.Errorf("%q doubles a letter outside the doubled block", l)
		}
	}
}

// Single letters are prefixes of the labels built on them ("S" of "SA"), so a label
// can be both a complete match and a prefix. Typing a label in full still hits exactly
// that label.
func TestPrefixLabelsStayReachable(t *testing.T) {
	labels := NewLabelSequence("ASD").Take(12)
	var prefixed int
	for _, a := range labels {
		for _, b := range labels {
			if a != b && strings.HasPrefix(b, a) {
				prefixed++
			}
		}
	}
	if prefixed == 0 {
		t.Fatalf("expected prefix pairs among %v", labels)
	}

	for _, want := range labels {
		t.Run(want, func(t *testing.T) {
			m := sessionWith(labels...)
			for _, key := range want {
				if _, err := m.Hit(context.Background(), string(key)); err != nil {
					t.Fatal(err)
				}
			}
			hit, ok := m.HitTarget()
			if !ok || hit.Hint != want {
				t.Fatalf("hit = %+v, %v", hit, ok)
			}
			for _, tg := range m.Targets() {
				switch {
				case tg.Hint == want:
				case strings.HasPrefix(tg.Hint, want):
					if tg.State != Candidate {
						t.Errorf("%q extends the input but is %s", tg.Hint, tg.State)
					}
				case tg.State != Disabled:
					t.Errorf("%q should be disabled, is %s", tg.Hint, tg.State)
				}
			}
		})
	}
}

func TestSingleLetterAlphabet(t *testing.T) {
	got := NewLabelSequence("a").Take(4)
	want := []string{"A", "AA", "AAA", "AAAA"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("labels = %v, want %v", got, want)
	}
}

func TestLetters(t *testing.T) {
	if got := Letters("as d a"); !reflect.DeepEqual(got, []string{"A", "S", "D"}) {
		t.Errorf("letters = %v", got)
	}
}
