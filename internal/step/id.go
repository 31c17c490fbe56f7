package step

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var idPattern = regexp.MustCompile(`^\d{2}(-\d+)?$`)

// ID is a parsed step identifier such as "09" or "09-5". The sub part lets a
// step be inserted after an existing one without renumbering the pipeline.
type ID struct {
	Main int
	Sub  int
	// HasSub distinguishes "09-0" from "09".
	HasSub bool
	raw    string
}

// ValidID reports whether value has the SS or SS-N shape.
func ValidID(value string) bool {
	return idPattern.MatchString(value)
}

// ParseID validates and decomposes a step identifier.
func ParseID(value string) (ID, error) {
	value = strings.TrimSpace(value)
	if !idPattern.MatchString(value) {
		return ID{}, fmt.Errorf("step: invalid id %q (expected SS or SS-N)", value)
	}
	mainPart, subPart, hasSub := strings.Cut(value, "-")
	id := ID{raw: value, HasSub: hasSub}
	id.Main, _ = strconv.Atoi(mainPart)
	if hasSub {
		sub, err := strconv.Atoi(subPart)
		if err != nil {
			return ID{}, fmt.Errorf("step: invalid sub id in %q: %w", value, err)
		}
		id.Sub = sub
	}
	return id, nil
}

// MustParseID panics when value is malformed. Intended for static tables.
func MustParseID(value string) ID {
	id, err := ParseID(value)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the identifier as written.
func (id ID) String() string {
	if id.raw != "" {
		return id.raw
	}
	if id.HasSub {
		return fmt.Sprintf("%02d-%d", id.Main, id.Sub)
	}
	return fmt.Sprintf("%02d", id.Main)
}

// Less orders ids the way the pipeline runs them: 09 < 09-5 < 10.
func (id ID) Less(other ID) bool {
	if id.Main != other.Main {
		return id.Main < other.Main
	}
	if id.HasSub != other.HasSub {
		return !id.HasSub
	}
	return id.Sub < other.Sub
}
