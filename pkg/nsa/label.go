package nsa

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EthernetVLAN is the type URI used for VLAN-tagged Ethernet labels,
// the only label type this service currently produces paths for.
const EthernetVLAN = "http://schemas.ogf.org/nsi/2013/12/services/ethernet#vlan"

// interval is an inclusive, closed integer range [Lo, Hi].
type interval struct {
	Lo, Hi int
}

// Label is a (type-URI, value-set) pair. The value-set is maintained in
// canonical form: sorted by lower bound, pairwise disjoint, non-adjacent.
type Label struct {
	Type   string
	values []interval
}

// NewLabel parses a comma-separated list of singletons ("n") and ranges
// ("a-b") into a canonical Label. Order and duplicates in the input do not
// matter; the result is always normalized.
func NewLabel(typeURI, valueSet string) (Label, error) {
	var ivs []interval
	for _, tok := range strings.Split(valueSet, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return Label{}, &LabelParseError{Value: valueSet, Cause: "empty token"}
		}
		iv, err := parseToken(tok)
		if err != nil {
			return Label{}, &LabelParseError{Value: valueSet, Cause: err.Error()}
		}
		ivs = append(ivs, iv)
	}
	return Label{Type: typeURI, values: normalize(ivs)}, nil
}

// MustNewLabel is like NewLabel but panics on error. Intended for tests and
// static label tables, not for parsing untrusted input.
func MustNewLabel(typeURI, valueSet string) Label {
	l, err := NewLabel(typeURI, valueSet)
	if err != nil {
		panic(err)
	}
	return l
}

func parseToken(tok string) (interval, error) {
	if dash := strings.IndexByte(tok, '-'); dash > 0 {
		loStr, hiStr := tok[:dash], tok[dash+1:]
		lo, err := strconv.Atoi(loStr)
		if err != nil {
			return interval{}, fmt.Errorf("invalid range lower bound %q", loStr)
		}
		hi, err := strconv.Atoi(hiStr)
		if err != nil {
			return interval{}, fmt.Errorf("invalid range upper bound %q", hiStr)
		}
		if lo > hi {
			return interval{}, fmt.Errorf("range %d-%d has lower bound greater than upper bound", lo, hi)
		}
		return interval{Lo: lo, Hi: hi}, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return interval{}, fmt.Errorf("invalid value %q", tok)
	}
	return interval{Lo: n, Hi: n}, nil
}

// normalize sorts intervals by lower bound and merges any that overlap or
// are adjacent (next.Lo <= current.Hi+1).
func normalize(ivs []interval) []interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := make([]interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })

	merged := []interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.Lo <= last.Hi+1 {
			if iv.Hi > last.Hi {
				last.Hi = iv.Hi
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Values returns the canonical (lo, hi) interval pairs.
func (l Label) Values() [][2]int {
	out := make([][2]int, len(l.values))
	for i, iv := range l.values {
		out[i] = [2]int{iv.Lo, iv.Hi}
	}
	return out
}

// String renders the label back to comma-separated singleton/range form.
func (l Label) String() string {
	parts := make([]string, len(l.values))
	for i, iv := range l.values {
		if iv.Lo == iv.Hi {
			parts[i] = strconv.Itoa(iv.Lo)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", iv.Lo, iv.Hi)
		}
	}
	return strings.Join(parts, ",")
}

// Enumerate produces the ascending sequence of every integer value in the
// label's value-set.
func (l Label) Enumerate() []int {
	var out []int
	for _, iv := range l.values {
		for v := iv.Lo; v <= iv.Hi; v++ {
			out = append(out, v)
		}
	}
	return out
}

// Singleton reports whether the value-set contains exactly one value.
func (l Label) Singleton() bool {
	return len(l.values) == 1 && l.values[0].Lo == l.values[0].Hi
}

// Empty reports whether the label's value-set is empty.
func (l Label) Empty() bool {
	return len(l.values) == 0
}

// jsonLabel mirrors Label's exported shape for JSON encoding, since
// values is unexported and the canonical string form round-trips
// through NewLabel exactly.
type jsonLabel struct {
	Type   string `json:"type"`
	Values string `json:"values"`
}

// MarshalJSON renders a label as its type URI plus canonical value-set
// string, so persisted paths (pkg/store) survive a restart intact.
func (l Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonLabel{Type: l.Type, Values: l.String()})
}

// UnmarshalJSON parses a label back from the form MarshalJSON produces.
func (l *Label) UnmarshalJSON(data []byte) error {
	var j jsonLabel
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.Values == "" {
		*l = Label{Type: j.Type}
		return nil
	}
	parsed, err := NewLabel(j.Type, j.Values)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Equal compares labels by type URI and normalized interval list.
func (l Label) Equal(other Label) bool {
	if l.Type != other.Type || len(l.values) != len(other.values) {
		return false
	}
	for i := range l.values {
		if l.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// Intersect returns a canonical label whose value-set is the pointwise
// intersection of l and other. Fails with EmptyLabelSet if the result is
// empty. The type URI of the result is l's type URI; callers are
// responsible for only intersecting same-typed labels.
func (l Label) Intersect(other Label) (Label, error) {
	var out []interval
	i, j := 0, 0
	for i < len(l.values) && j < len(other.values) {
		a, b := l.values[i], other.values[j]
		lo := a.Lo
		if b.Lo > lo {
			lo = b.Lo
		}
		hi := a.Hi
		if b.Hi < hi {
			hi = b.Hi
		}
		if lo <= hi {
			out = append(out, interval{Lo: lo, Hi: hi})
		}
		if a.Hi < b.Hi {
			i++
		} else {
			j++
		}
	}
	if len(out) == 0 {
		return Label{}, EmptyLabelSet
	}
	return Label{Type: l.Type, values: normalize(out)}, nil
}
