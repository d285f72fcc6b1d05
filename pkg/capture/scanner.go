package capture

import (
	"regexp"
	"runtime"
	"runtime/debug"
	"strings"
)

// Scanner decides whether a trace passes through the component's own code.
//
// A frame is the component's when its function lives in one of the
// component's Go packages (or a package below one), or when its file sits
// under the component's installation directory. Package paths match whole
// path segments: github.com/acme/addon does not match github.com/acme/addon2.
type Scanner struct {
	marker *regexp.Regexp
}

// NewScanner builds a scanner for a component installed at installDir whose
// code lives under the given Go package paths. Either may be empty.
func NewScanner(installDir string, packages ...string) *Scanner {
	var alts []string

	if m := dirMarker(installDir); m != "" {
		alts = append(alts, m)
	}

	var quoted []string
	for _, p := range packages {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	if len(quoted) > 0 {
		pkgs := "(?:" + strings.Join(quoted, "|") + ")"
		// function names start a line in Trace.Format
		alts = append(alts, `^`+pkgs+`[./]`)
		// source paths from GOPATH or the module cache, with or without @version
		alts = append(alts, `[/\\]`+pkgs+`(?:@[^/\\\s]*)?[/\\]`)
	}

	if len(alts) == 0 {
		return &Scanner{}
	}
	return &Scanner{marker: regexp.MustCompile(`(?m)` + strings.Join(alts, "|"))}
}

// dirMarker matches the installation directory name (with its parent
// directory name when there is one) between path separators
func dirMarker(installDir string) string {
	clean := strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(installDir), `\`, "/"), "/")
	if clean == "" {
		return ""
	}
	name := pathBase(clean)
	parent := pathBase(strings.TrimSuffix(clean, "/"+name))
	if parent == name || !strings.Contains(clean, "/") {
		parent = ""
	}

	sep := `[/\\]`
	pattern := sep + regexp.QuoteMeta(name) + sep
	if parent != "" {
		pattern = sep + regexp.QuoteMeta(parent) + pattern
	}
	return pattern
}

// IsOurs reports whether any frame of the trace belongs to the component
func (s *Scanner) IsOurs(trace Trace) bool {
	return s.IsOursText(trace.Format())
}

// IsOursText reports whether formatted trace text contains the marker
func (s *Scanner) IsOursText(text string) bool {
	if s == nil || s.marker == nil {
		return false
	}
	return s.marker.MatchString(text)
}

// Pattern returns the marker expression, for diagnostics
func (s *Scanner) Pattern() string {
	if s == nil || s.marker == nil {
		return ""
	}
	return s.marker.String()
}

// PackageOf returns the import path of the package a function belongs to,
// given its runtime name (github.com/acme/addon/sync.(*Syncer).Run).
func PackageOf(function string) string {
	// type arguments of generic instantiations may contain slashes
	if i := strings.Index(function, "["); i >= 0 {
		function = function[:i]
	}
	slash := strings.LastIndex(function, "/")
	rest := function[slash+1:]
	dot := strings.Index(rest, ".")
	if dot < 0 {
		return function
	}
	return function[:slash+1+dot]
}

// CallerPackage returns the import path of the package skip frames above
// the caller of CallerPackage
func CallerPackage(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	return PackageOf(fn.Name())
}

// ModuleOf widens a package path to the module that contains it, using the
// build information of the running binary. It returns pkg unchanged when no
// module of the build contains it.
func ModuleOf(pkg string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || pkg == "" {
		return pkg
	}

	paths := []string{bi.Main.Path}
	for _, dep := range bi.Deps {
		paths = append(paths, dep.Path)
	}
	return longestModule(pkg, paths)
}

func longestModule(pkg string, modules []string) string {
	best := ""
	for _, m := range modules {
		if m == "" || len(m) <= len(best) {
			continue
		}
		if pkg == m || strings.HasPrefix(pkg, m+"/") {
			best = m
		}
	}
	if best == "" {
		return pkg
	}
	return best
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
