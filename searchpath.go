package ptex

import (
	"path/filepath"
	"strings"
)

// searchPath resolves a texture path against a colon-separated list of
// directories (spec.md section 6, Cache.setSearchPath). An absolute input
// path, or one that exists relative to the current directory, is used
// as-is; otherwise each configured directory is tried in order.
type searchPath struct {
	dirs []string
}

// setSearchPath replaces the configured directory list, splitting on the
// platform path-list separator the same way os.Getenv("PATH") would be
// split (":" on POSIX, ";" on Windows), matching filepath.ListSeparator.
func (s *searchPath) set(colonSeparated string) {
	if colonSeparated == "" {
		s.dirs = nil
		return
	}
	parts := strings.Split(colonSeparated, string(filepath.ListSeparator))
	s.dirs = make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			s.dirs = append(s.dirs, p)
		}
	}
}

// resolve returns the candidate paths to try, in order, for a lookup of
// name: the name itself first (covering absolute paths and paths already
// valid relative to the process cwd), then name joined under each search
// directory.
func (s *searchPath) resolve(name string) []string {
	if filepath.IsAbs(name) || len(s.dirs) == 0 {
		return []string{name}
	}
	candidates := make([]string, 0, len(s.dirs)+1)
	candidates = append(candidates, name)
	for _, d := range s.dirs {
		candidates = append(candidates, filepath.Join(d, name))
	}
	return candidates
}
