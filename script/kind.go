package script

import (
	"strings"

	"github.com/wippyai/simscript/errors"
)

// Kind is the role a script plays in the session.
type Kind uint8

const (
	KindMain Kind = iota
	KindChild
	KindCustomization
	KindAddOn
	KindAddOnFunction
	KindSandbox
)

var kindNames = [...]string{
	KindMain:          "main",
	KindChild:         "child",
	KindCustomization: "customization",
	KindAddOn:         "addon",
	KindAddOnFunction: "addonfunction",
	KindSandbox:       "sandbox",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind resolves a kind name. Matching ignores case, dashes and
// underscores, so "add-on" and "AddOn" both name KindAddOn.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for i, name := range kindNames {
		if norm == name {
			return Kind(i), nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseValidate, "unknown script kind "+s)
}

// UnmarshalText lets kinds be read from manifests.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Simulation reports whether scripts of this kind run as part of the
// simulation loop. Only non-simulation scripts are subject to the
// execution-time watchdog.
func (k Kind) Simulation() bool {
	return k == KindMain || k == KindChild
}

// RuntimeVisible reports whether the kind is returned by RuntimeOnly
// lookups.
func (k Kind) RuntimeVisible() bool {
	switch k {
	case KindAddOn, KindAddOnFunction, KindSandbox:
		return false
	}
	return true
}

// Visibility selects which kinds a lookup may return.
type Visibility uint8

const (
	// RuntimeOnly excludes add-ons, add-on functions and the sandbox.
	RuntimeOnly Visibility = iota
	All
)

// Feature names a category of thread switching governed by a forbid level.
type Feature uint8

const (
	AutomaticSwitch Feature = iota
	ManualSwitch

	numFeatures
)

func (f Feature) String() string {
	switch f {
	case AutomaticSwitch:
		return "automatic"
	case ManualSwitch:
		return "manual"
	default:
		return "unknown"
	}
}

// DebugLevel controls call tracing.
type DebugLevel uint8

const (
	DebugNone DebugLevel = iota
	DebugCalls
	DebugAll
)

// Traces reports whether call/return events are recorded at this level.
func (d DebugLevel) Traces() bool {
	return d >= DebugCalls
}

// Verbosity controls how captured errors are logged.
type Verbosity uint8

const (
	VerbositySilent Verbosity = iota
	VerbosityErrors
	VerbosityWarnings
	VerbosityInfos
)

// ObjectID identifies a scene object. NoObject means unattached.
type ObjectID int64

const NoObject ObjectID = -1

// ThreadID identifies the logical thread a script is bound to. MainThread
// is the main simulation thread.
type ThreadID uint32

const MainThread ThreadID = 0
