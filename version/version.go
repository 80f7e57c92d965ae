package version

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// this is the updraft version
// will be replaced with the release version when using goreleaser
var version = "development"

// UpdraftVersion returns the version the running binary was built as.
func UpdraftVersion() string {
	return version
}

// segment is one dot-delimited component of a version string. Non-numeric
// components are kept with numeric=false and compare as neither greater
// nor lesser than anything.
type segment struct {
	value   int
	numeric bool
}

// IsNewer reports whether candidate is strictly newer than current.
//
// Both strings are split on "." and compared component by component, left
// to right; the first differing component decides. Comparison never runs
// past the shorter of the two sequences, so a strict numeric prefix
// ("1.2" against "1.2.3") counts as equal and is not newer. A pair with
// a non-numeric component is incomparable at that index and is skipped;
// the decision falls to the remaining components.
func IsNewer(candidate, current string) bool {
	candSegs := splitSegments(candidate)
	currSegs := splitSegments(current)

	n := len(candSegs)
	if len(currSegs) < n {
		n = len(currSegs)
	}

	for i := 0; i < n; i++ {
		if !candSegs[i].numeric || !currSegs[i].numeric {
			continue
		}
		if candSegs[i].value > currSegs[i].value {
			log.Debugf("version %s is newer than the running version %s", candidate, current)
			return true
		}
		if candSegs[i].value < currSegs[i].value {
			log.Debugf("version %s is older than the running version %s", candidate, current)
			return false
		}
	}

	return false
}

func splitSegments(v string) []segment {
	parts := strings.Split(v, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			segs = append(segs, segment{})
			continue
		}
		segs = append(segs, segment{value: value, numeric: true})
	}
	return segs
}
