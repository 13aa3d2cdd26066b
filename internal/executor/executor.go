// Package executor runs snippet code in an isolated environment.
package executor

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrUnsupportedLanguage = errors.New("executor: no runtime for language")

// TimeoutExitCode is reported when a run is killed for exceeding its time
// limit, the same code the unix timeout(1) command uses.
const TimeoutExitCode = 124

// Request is one snippet run.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Result is the output and status of a run.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// Executor runs code for a supported language.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Runtime describes how one snippet language is executed.
type Runtime struct {
	Image string
	// Command builds the argv that evaluates code inside the container.
	Command func(code string) []string
}

var runtimes = map[string]Runtime{
	"python": {
		Image:   "python:3.12-alpine",
		Command: func(code string) []string { return []string{"python", "-c", code} },
	},
	"javascript": {
		Image:   "node:22-alpine",
		Command: func(code string) []string { return []string{"node", "-e", code} },
	},
	// alpine ships busybox ash; bash snippets run under it.
	"bash": {
		Image:   "alpine:3.20",
		Command: func(code string) []string { return []string{"sh", "-c", code} },
	},
	"shell": {
		Image:   "alpine:3.20",
		Command: func(code string) []string { return []string{"sh", "-c", code} },
	},
}

// RuntimeFor returns the runtime for a snippet language.
func RuntimeFor(language string) (Runtime, bool) {
	rt, ok := runtimes[language]
	return rt, ok
}

// Languages lists the languages that have a runtime, sorted.
func Languages() []string {
	out := make([]string, 0, len(runtimes))
	for lang := range runtimes {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Images lists the distinct container images all runtimes need, sorted.
func Images() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rt := range runtimes {
		if _, ok := seen[rt.Image]; ok {
			continue
		}
		seen[rt.Image] = struct{}{}
		out = append(out, rt.Image)
	}
	sort.Strings(out)
	return out
}
