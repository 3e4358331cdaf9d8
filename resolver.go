// FILE: lixenwraith/funnel/resolver.go
package funnel

import (
	"path/filepath"
	"strings"
)

// PathResolver maps engine variables and a record to the file path the
// record should be appended to. The engine treats the result as opaque
// except for parent directory creation. Resolvers should return absolute
// paths; an empty result is a resolution failure and the record is
// dropped. Resolvers are invoked from the writer goroutine only but must
// be pure: no state, no side effects.
type PathResolver func(vars Variables, r *Record) (string, error)

// OriginPathResolver returns a resolver that buckets records per process
// kind: <root>/<kind>.log
func OriginPathResolver(root string) PathResolver {
	return func(vars Variables, r *Record) (string, error) {
		kind := r.Origin.Kind
		if kind == "" {
			kind = KindCoordinator
		}
		return filepath.Join(root, kind+".log"), nil
	}
}

// SessionPathResolver returns a resolver producing the date/session
// bucketed layout: <root>/<date>/<session>/<kind>.log
// The session identifier is read from the "session" variable; records
// without one fall into a "default" bucket.
func SessionPathResolver(root string) PathResolver {
	return func(vars Variables, r *Record) (string, error) {
		session := vars["session"]
		if session == "" {
			session = "default"
		}
		kind := r.Origin.Kind
		if kind == "" {
			kind = KindCoordinator
		}
		date := r.TimeStamp.Format("2006-01-02")
		return filepath.Join(root, date, session, kind+".log"), nil
	}
}

// ScopePathResolver returns a resolver that buckets records per scope:
// <root>/<scope>.log, with unscoped records going to <root>/main.log
func ScopePathResolver(root string) PathResolver {
	return func(vars Variables, r *Record) (string, error) {
		scope := strings.TrimSpace(r.Scope)
		if scope == "" {
			scope = "main"
		}
		return filepath.Join(root, scope+".log"), nil
	}
}

// resolvePath runs the configured resolver, falling back to the static
// directory/name scheme. Resolver panics are converted to errors so a
// faulty hook cannot take down the writer.
func (e *engine) resolvePath(cfg *Config, r *Record) (path string, err error) {
	if cfg.PathResolver == nil {
		filename := cfg.Name
		if cfg.Extension != "" {
			filename = cfg.Name + "." + cfg.Extension
		}
		return filepath.Join(cfg.Directory, filename), nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			path = ""
			err = fmtErrorf("path resolver panicked: %v", rec)
		}
	}()

	vars := cfg.Variables.merged(r.Variables)
	path, err = cfg.PathResolver(vars, r)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", fmtErrorf("path resolver returned empty path")
	}
	return filepath.Clean(path), nil
}
