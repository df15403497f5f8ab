package inventory

import "sync"

// versionRegistry interns SoftwareVersion values so that at most one object
// exists per (cycle, major, minor, suffix) tuple (invariant 7), mirroring
// the source's module-level interning table.
var versionRegistry struct {
	sync.Mutex
	byKey map[SoftwareVersion]*SoftwareVersion
}

func init() {
	versionRegistry.byKey = make(map[SoftwareVersion]*SoftwareVersion)
}

// InternSoftwareVersion returns the single canonical instance for the given
// (cycle, major, minor, suffix) tuple, creating it on first use.
func InternSoftwareVersion(cycle, major, minor int, suffix string) *SoftwareVersion {
	key := SoftwareVersion{Cycle: cycle, Major: major, Minor: minor, Suffix: suffix}

	versionRegistry.Lock()
	defer versionRegistry.Unlock()

	if v, ok := versionRegistry.byKey[key]; ok {
		return v
	}
	v := key
	versionRegistry.byKey[key] = &v
	return &v
}
