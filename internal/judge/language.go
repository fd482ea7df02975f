package judge

import (
	"sort"
	"strings"

	"duel_arena/internal/domain/model"
)

// Placeholders substituted into language command templates.
const (
	srcPlaceholder = "{src}"
	binPlaceholder = "{bin}"
)

// Language describes how to build and run one submission language. Compile is empty
// for interpreted languages.
type Language struct {
	Slug       string
	Name       string
	SourceFile string
	Compile    []string
	Run        []string
}

func (l Language) Model() model.Language {
	return model.Language{Slug: l.Slug, Name: l.Name, Compiled: len(l.Compile) > 0}
}

// DefaultLanguages is the built-in registry.
func DefaultLanguages() []Language {
	return []Language{
		{Slug: "python", Name: "Python 3", SourceFile: "main.py", Run: []string{"python3", srcPlaceholder}},
		{Slug: "javascript", Name: "JavaScript (Node.js)", SourceFile: "main.js", Run: []string{"node", srcPlaceholder}},
		{
			Slug:       "cpp",
			Name:       "C++17",
			SourceFile: "main.cpp",
			Compile:    []string{"g++", "-O2", "-std=c++17", "-o", binPlaceholder, srcPlaceholder},
			Run:        []string{binPlaceholder},
		},
		{Slug: "bash", Name: "Bash", SourceFile: "main.sh", Run: []string{"bash", srcPlaceholder}},
	}
}

type registry map[string]Language

func newRegistry(langs []Language) registry {
	if len(langs) == 0 {
		langs = DefaultLanguages()
	}
	r := make(registry, len(langs))
	for _, l := range langs {
		r[l.Slug] = l
	}
	return r
}

func (r registry) lookup(slug string) (Language, bool) {
	l, ok := r[strings.ToLower(strings.TrimSpace(slug))]
	return l, ok
}

func (r registry) list() []model.Language {
	out := make([]model.Language, 0, len(r))
	for _, l := range r {
		out = append(out, l.Model())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func expand(template []string, src, bin string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		arg = strings.ReplaceAll(arg, srcPlaceholder, src)
		out[i] = strings.ReplaceAll(arg, binPlaceholder, bin)
	}
	return out
}
