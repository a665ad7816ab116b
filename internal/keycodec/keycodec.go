// Package keycodec canonicalizes and validates the composite key formats
// defined in spec.md §3: frameworkKey, controlKey and mappingKey. Operations
// are pure functions over strings, with no store or RPC dependency — the
// same value-object discipline the teacher applies to its own key types in
// internal/store/key.go, generalized here to string codecs instead of
// crypto keys.
package keycodec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const separator = "#"

var (
	frameworkKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+#[A-Za-z0-9._-]+$`)
	controlKeyPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+#[A-Za-z0-9._-]+#.+$`)
	fieldPattern        = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// MalformedKey is returned whenever a key component is empty or violates
// the regex in spec.md §3.
type MalformedKey struct {
	error
}

func newMalformedKey(format string, args ...any) *MalformedKey {
	return &MalformedKey{fmt.Errorf(format, args...)}
}

// FrameworkKey is "<frameworkName>#<version>".
type FrameworkKey struct {
	Name    string
	Version string
}

func (k FrameworkKey) String() string {
	return k.Name + separator + k.Version
}

// ControlKey is "<frameworkKey>#<controlId>".
type ControlKey struct {
	Framework FrameworkKey
	ControlID string
}

func (k ControlKey) String() string {
	return k.Framework.String() + separator + k.ControlID
}

// BuildFrameworkKey validates and joins a framework name and version.
func BuildFrameworkKey(name, version string) (FrameworkKey, error) {
	if name == "" || version == "" {
		return FrameworkKey{}, newMalformedKey("framework key: name and version must be non-empty")
	}
	if !fieldPattern.MatchString(name) {
		return FrameworkKey{}, newMalformedKey("framework key: invalid name %q", name)
	}
	if !fieldPattern.MatchString(version) {
		return FrameworkKey{}, newMalformedKey("framework key: invalid version %q", version)
	}
	return FrameworkKey{Name: name, Version: version}, nil
}

// ParseFrameworkKey validates a raw "<name>#<version>" string.
func ParseFrameworkKey(raw string) (FrameworkKey, error) {
	if !frameworkKeyPattern.MatchString(raw) {
		return FrameworkKey{}, newMalformedKey("malformed framework key: %q", raw)
	}
	parts := strings.SplitN(raw, separator, 2)
	return FrameworkKey{Name: parts[0], Version: parts[1]}, nil
}

// mappingSeparator joins the two halves of a mappingKey (spec.md §3). It,
// along with newline, is the only character forbidden inside a controlId —
// the '#' separator is structural only for the first two fields of a
// controlKey and is otherwise a legal controlId character.
const mappingSeparator = "|"

// BuildControlKey validates controlID (any non-empty UTF-8 except newline
// and the mapping-key separator) and joins it to an already-valid framework
// key.
func BuildControlKey(fk FrameworkKey, controlID string) (ControlKey, error) {
	if controlID == "" {
		return ControlKey{}, newMalformedKey("control key: controlId must be non-empty")
	}
	if strings.ContainsAny(controlID, "\n"+mappingSeparator) {
		return ControlKey{}, newMalformedKey("control key: controlId %q contains newline or %q", controlID, mappingSeparator)
	}
	return ControlKey{Framework: fk, ControlID: controlID}, nil
}

// ParseControlKey validates and splits a raw "<name>#<version>#<controlId>"
// string. Only the first two separators are structural; the controlId may
// itself contain further '#' characters (it is simply everything after the
// second separator).
func ParseControlKey(raw string) (ControlKey, error) {
	if !controlKeyPattern.MatchString(raw) {
		return ControlKey{}, newMalformedKey("malformed control key: %q", raw)
	}
	parts := strings.SplitN(raw, separator, 3)
	fk, err := BuildFrameworkKey(parts[0], parts[1])
	if err != nil {
		return ControlKey{}, err
	}
	return BuildControlKey(fk, parts[2])
}

// BuildMappingKey returns the canonical, order-independent key for an
// unordered pair of control keys: sort([a, b]).join("|"). Commutative by
// construction (P3 / L1 in spec.md §8).
func BuildMappingKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}
