package parser

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/registry-indexer/internal/types"
)

// Generated names and versions stay within the character sets the extraction
// heuristics treat as opaque value text.
func genPackageName() gopter.Gen {
	return gen.RegexMatch("[a-z][a-z0-9-]{0,24}")
}

func genVersion() gopter.Gen {
	return gen.RegexMatch("[0-9]{1,3}\\.[0-9]{1,3}\\.[0-9]{1,3}")
}

func TestParse_RoundTripProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("key=value lines round-trip", prop.ForAll(
		func(name, version string) bool {
			line := "Program log: Instruction: Publish package=" + name + " version=" + version
			event := Parse(line, "sig", 1, nil)
			return event != nil &&
				event.EventType == types.EventPublished &&
				event.PackageName == name &&
				event.Version != nil && *event.Version == version
		},
		genPackageName(),
		genVersion(),
	))

	properties.Property("json lines round-trip", prop.ForAll(
		func(name, version string) bool {
			line := `Program log: PackageUpdated {"package":"` + name + `","version":"` + version + `"}`
			event := Parse(line, "sig", 1, nil)
			return event != nil &&
				event.EventType == types.EventUpdated &&
				event.PackageName == name &&
				event.Version != nil && *event.Version == version
		},
		genPackageName(),
		genVersion(),
	))

	properties.Property("name@version lines round-trip", prop.ForAll(
		func(name, version string) bool {
			line := "Package published: " + name + "@" + version
			event := Parse(line, "sig", 1, nil)
			return event != nil &&
				event.EventType == types.EventPublished &&
				event.PackageName == name &&
				event.Version != nil && *event.Version == version
		},
		genPackageName(),
		genVersion(),
	))

	properties.TestingRun(t)
}
