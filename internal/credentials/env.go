package credentials

import (
	"os"
	"strings"
)

// EnvDefaults reads process keys from environment variables. Values are
// looked up on every call so a rotated key takes effect without a restart.
type EnvDefaults struct {
	names  map[Vendor]string
	lookup func(string) (string, bool)
}

// NewEnvDefaults returns EnvDefaults using each vendor's standard variable,
// with per-vendor variable names replaced by overrides.
func NewEnvDefaults(overrides map[Vendor]string) *EnvDefaults {
	names := make(map[Vendor]string, len(vendors))
	for v, info := range vendors {
		names[v] = info.envVar
	}
	for v, name := range overrides {
		if name != "" {
			names[v] = name
		}
	}
	return &EnvDefaults{names: names, lookup: os.LookupEnv}
}

// Default implements DefaultSource.
func (e *EnvDefaults) Default(v Vendor) (string, bool) {
	name, ok := e.names[v]
	if !ok {
		return "", false
	}
	raw, _ := e.lookup(name)
	s := strings.TrimSpace(raw)
	return s, s != ""
}

// VarName returns the environment variable consulted for v.
func (e *EnvDefaults) VarName(v Vendor) string {
	return e.names[v]
}
