package types

import (
	"bytes"
	"path"
	"strings"
)

// MaxContentSize caps captured file content.
const MaxContentSize int64 = 100 * KiB

var textExtensions = map[string]struct{}{}

var textNames = map[string]struct{}{
	"makefile": {}, "dockerfile": {}, "gemfile": {}, "rakefile": {}, "procfile": {},
}

func init() {
	for _, ext := range []string{
		"py", "js", "ts", "jsx", "tsx", "json", "md", "txt", "html", "css", "scss",
		"yaml", "yml", "toml", "ini", "conf", "cfg", "sh", "bash", "zsh", "xml",
		"svg", "sql", "rb", "go", "rs", "java", "c", "cpp", "h", "hpp", "swift",
		"kt", "scala", "php", "pl", "pm", "r", "lua", "vim", "el", "clj", "cljs",
		"ex", "exs", "erl", "hrl", "hs", "ml", "mli", "fs", "fsi", "vue", "svelte",
		"astro", "graphql", "gql", "proto", "dockerfile", "makefile", "cmake",
		"gradle", "pom", "env", "gitignore", "gitattributes", "mod", "sum",
	} {
		textExtensions[ext] = struct{}{}
	}
}

// IsTextFile reports whether p names a file whose content is captured and
// whose lines are counted.
func IsTextFile(p string) bool {
	if _, ok := textNames[strings.ToLower(path.Base(p))]; ok {
		return true
	}
	_, ok := textExtensions[Ext(p)]
	return ok
}

// CountLines counts newline-terminated lines plus a trailing unterminated one.
func CountLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	n := bytes.Count(b, []byte{'\n'})
	if b[len(b)-1] != '\n' {
		n++
	}
	return n
}

// DecodeContent turns raw file bytes into captured content. Invalid UTF-8 is
// replaced with U+FFFD so the content survives a JSON round trip unchanged.
func DecodeContent(b []byte) *string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	return &s
}
