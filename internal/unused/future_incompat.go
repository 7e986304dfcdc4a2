package unused

import (
	"os"

	"github.com/Masterminds/semver/v3"
)

// LegacyPackageName is the name of the one dependency this reporter knows
// to carry a forthcoming breaking ABI change, mirroring the original
// loader's hardcoded wasm_bindgen check: a handful of ecosystem crates
// predate a calling-convention change and need an explicit compatibility
// warning until they catch up, rather than a generic deprecation notice.
const LegacyPackageName = "wasm_bindgen"

// legacyPackageMinVersions lists, per major version line, the earliest
// patch release considered already compatible with the new ABI. A
// dependency whose declared version sorts below the applicable entry
// triggers the future-incompatibility diagnostic.
var legacyPackageMinVersions = []*semver.Version{
	semver.MustParse("1.0.0"),
	semver.MustParse("0.3.0"),
	semver.MustParse("0.2.88"),
}

// CheckFutureIncompatible inspects the declared version of name (if it is
// LegacyPackageName) against the environment's CARGO_PKG_VERSION_MAJOR,
// _MINOR and _PATCH variables the same way the original diagnostic reads
// the compiling crate's own manifest-derived version triple. If those
// variables are entirely absent the check is skipped — there is no
// surrounding build-system manifest to be incompatible with. Returns true
// if a diagnostic should be emitted.
func CheckFutureIncompatible(name string) bool {
	if name != LegacyPackageName {
		return false
	}

	major := os.Getenv("CARGO_PKG_VERSION_MAJOR")
	minor := os.Getenv("CARGO_PKG_VERSION_MINOR")
	patch := os.Getenv("CARGO_PKG_VERSION_PATCH")
	if major == "" && minor == "" && patch == "" {
		return false
	}

	v, err := semver.NewVersion(major + "." + orZero(minor) + "." + orZero(patch))
	if err != nil {
		return false
	}

	for _, min := range legacyPackageMinVersions {
		// On the 0.x lines each minor is its own line, so an entry applies
		// only from its own minor version upward.
		if v.Major() == min.Major() && (v.Major() > 0 || v.Minor() >= min.Minor()) {
			return v.LessThan(min)
		}
	}
	// No matching major line in the known-compatible table: treat any
	// major newer than the table's highest entry as compatible, and any
	// older one as incompatible, matching the original's valid-version
	// matrix falling through to "emit WasmCAbi" for anything else.
	return v.Major() < legacyPackageMinVersions[0].Major()
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
