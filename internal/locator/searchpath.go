package locator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/crateload/crateload/internal/crate"
)

// extensionKinds maps a file extension to the crate.Kind it represents and
// the Source field it should populate.
var extensionKinds = map[string]crate.Kind{
	".rlib":  crate.KindRlib,
	".rmeta": crate.KindAny,
	".so":    crate.KindDylib,
	".dylib": crate.KindDylib,
	".dll":   crate.KindDylib,
}

// SearchPathLocator is the reference Locator: it scans a fixed list of
// directories (the equivalent of -L search-path entries) for files named
// name[-extra_filename].{rlib,dylib,so,dylib,dll,rmeta} and classifies
// what it finds.
type SearchPathLocator struct {
	SearchPaths []string
}

// NewSearchPathLocator constructs a SearchPathLocator over the given
// directories, searched in order.
func NewSearchPathLocator(paths ...string) *SearchPathLocator {
	return &SearchPathLocator{SearchPaths: paths}
}

// Load implements Locator.
func (l *SearchPathLocator) Load(ctx context.Context, req Request) (Result, error) {
	if req.ExplicitPath != "" {
		return l.loadExplicit(req)
	}
	return l.loadFromSearchPath(req)
}

func (l *SearchPathLocator) loadExplicit(req Request) (Result, error) {
	abs, err := filepath.Abs(req.ExplicitPath)
	if err != nil {
		return Result{Rejected: []Rejection{{Path: req.ExplicitPath, Reason: err.Error()}}}, nil
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return Result{Rejected: []Rejection{{Path: abs, Reason: "not a regular file"}}}, nil
	}
	kind, ok := extensionKinds[filepath.Ext(abs)]
	if !ok {
		return Result{Rejected: []Rejection{{Path: abs, Reason: "unrecognized extension"}}}, nil
	}
	if !req.Kind.Matches(kind) {
		return Result{Rejected: []Rejection{{Path: abs, Reason: "kind mismatch"}}}, nil
	}
	return Result{Candidates: []Candidate{{Source: sourceFor(abs, kind), Kind: kind, Path: abs}}}, nil
}

func (l *SearchPathLocator) loadFromSearchPath(req Request) (Result, error) {
	var res Result

	for _, dir := range l.SearchPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			ext := filepath.Ext(name)
			kind, ok := extensionKinds[ext]
			if !ok {
				continue
			}
			stem := strings.TrimSuffix(name, ext)
			if !matchesStem(stem, req.Name) {
				continue
			}
			path := filepath.Join(dir, name)
			if !req.Kind.Matches(kind) {
				res.Rejected = append(res.Rejected, Rejection{Path: path, Reason: "kind mismatch"})
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{Source: sourceFor(path, kind), Kind: kind, Path: path})
		}
	}

	return res, nil
}

// matchesStem reports whether a filename stem matches name, optionally
// followed by a "-<extra_filename>" disambiguator, the same way rustc
// accepts both "foo.rlib" and "foo-a1b2c3d4.rlib" as candidates for crate
// "foo".
func matchesStem(stem, name string) bool {
	if stem == name {
		return true
	}
	prefix := name + "-"
	return strings.HasPrefix(stem, prefix) && len(stem) > len(prefix)
}

func sourceFor(path string, kind crate.Kind) crate.Source {
	var src crate.Source
	switch kind {
	case crate.KindRlib:
		src.RlibPath = path
	case crate.KindDylib:
		src.DylibPath = path
	default:
		src.RmetaPath = path
	}
	return src
}
