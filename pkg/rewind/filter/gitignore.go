package filter

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// Rule is one compiled line of a .gitignore file.
type Rule struct {
	// Base is the directory holding the .gitignore, relative to the root.
	// Empty for the root itself.
	Base    string
	Pattern string
	Negate  bool
	DirOnly bool

	glob string
}

// ParseRule compiles a single gitignore line found in base. ok is false for
// blank lines and comments.
func ParseRule(base, line string) (rule Rule, ok bool, err error) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return Rule{}, false, nil
	}

	rule = Rule{Base: strings.Trim(filepath.ToSlash(base), "/"), Pattern: line}
	p := line
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		rule.Negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		rule.DirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return Rule{}, false, nil
	}

	anchored := strings.HasPrefix(p, "/") || strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	if !anchored && !strings.HasPrefix(p, "**/") {
		p = "**/" + p
	}
	if !doublestar.ValidatePattern(p) {
		return Rule{}, false, &PatternError{Pattern: line}
	}
	rule.glob = p
	return rule, true, nil
}

// ParseGitignore compiles every rule in data. source names the file in errors.
func ParseGitignore(source, base string, data []byte) ([]Rule, error) {
	var rules []Rule
	sc := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for sc.Scan() {
		n++
		rule, ok, err := ParseRule(base, sc.Text())
		if err != nil {
			var pe *PatternError
			if errors.As(err, &pe) {
				pe.Source, pe.Line = source, n
			}
			return nil, err
		}
		if ok {
			rules = append(rules, rule)
		}
	}
	return rules, sc.Err()
}

// LoadGitignore collects the rules of every .gitignore under root, outer
// files first so that inner files take precedence. .git directories are not
// searched.
func LoadGitignore(root string) ([]Rule, error) {
	var (
		mu    sync.Mutex
		found []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return fastwalk.SkipDir
		}
		if d.Name() == ".gitignore" && d.Type().IsRegular() {
			mu.Lock()
			found = append(found, path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bases := make(map[string]string, len(found))
	for _, path := range found {
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		if rel == "." {
			rel = ""
		}
		bases[path] = filepath.ToSlash(rel)
	}
	depth := func(path string) int {
		if bases[path] == "" {
			return -1
		}
		return strings.Count(bases[path], "/")
	}
	sort.Slice(found, func(i, j int) bool {
		di, dj := depth(found[i]), depth(found[j])
		if di != dj {
			return di < dj
		}
		return found[i] < found[j]
	})

	var rules []Rule
	for _, path := range found {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		r, err := ParseGitignore(path, bases[path], data)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r...)
	}
	return rules, nil
}

// matches reports whether the rule selects rel, a path relative to the root.
// A rule matching any ancestor directory selects everything below it.
func (r Rule) matches(rel string, isDir bool) bool {
	if r.Base != "" {
		if !strings.HasPrefix(rel, r.Base+"/") {
			return false
		}
		rel = rel[len(r.Base)+1:]
	}
	if ok, _ := doublestar.Match(r.glob, rel); ok && (!r.DirOnly || isDir) {
		return true
	}
	for i := strings.IndexByte(rel, '/'); i >= 0; {
		if ok, _ := doublestar.Match(r.glob, rel[:i]); ok {
			return true
		}
		next := strings.IndexByte(rel[i+1:], '/')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}
