// Package fetch resolves fetch-spec strings into registry/git downloads,
// landing extracted package content or a cloned repository under the data
// root and handing back a Result from which the caller builds the
// registry entry.
package fetch

import (
	"fmt"
	"strings"
)

// ParsedSpec is the result of parsing one fetch-spec string against the
// grammar in spec.md §6.
type ParsedSpec struct {
	Type    string // "npm", "pypi", "crates", "repo"
	Name    string // bare package name, or "host/owner/repo" for repos
	Version string // registry version or git ref; empty means "latest"
	Host    string // "github.com" or "gitlab.com"; only set for Type=="repo"
	Owner   string
	Repo    string
}

// Resolve parses a fetch-spec string per the grammar:
//
//	spec := bareName ["@" version]
//	      | "npm:" name ["@" version]
//	      | ("pypi:"|"pip:") name ["==" version]
//	      | ("crates:"|"cargo:") name ["@" version]
//	      | "github:" owner "/" repo ["@" ref]
//	      | "gitlab:" owner "/" repo ["@" ref]
//	      | owner "/" repo ["@" ref]            (GitHub default)
func Resolve(spec string) (*ParsedSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty fetch spec")
	}

	switch {
	case strings.HasPrefix(spec, "npm:"):
		name, version := splitAt(spec[len("npm:"):], "@")
		return &ParsedSpec{Type: "npm", Name: name, Version: version}, nil

	case strings.HasPrefix(spec, "pypi:"):
		name, version := splitAt(spec[len("pypi:"):], "==")
		return &ParsedSpec{Type: "pypi", Name: name, Version: version}, nil
	case strings.HasPrefix(spec, "pip:"):
		name, version := splitAt(spec[len("pip:"):], "==")
		return &ParsedSpec{Type: "pypi", Name: name, Version: version}, nil

	case strings.HasPrefix(spec, "crates:"):
		name, version := splitAt(spec[len("crates:"):], "@")
		return &ParsedSpec{Type: "crates", Name: name, Version: version}, nil
	case strings.HasPrefix(spec, "cargo:"):
		name, version := splitAt(spec[len("cargo:"):], "@")
		return &ParsedSpec{Type: "crates", Name: name, Version: version}, nil

	case strings.HasPrefix(spec, "github:"):
		return parseRepoSpec("github.com", spec[len("github:"):])
	case strings.HasPrefix(spec, "gitlab:"):
		return parseRepoSpec("gitlab.com", spec[len("gitlab:"):])

	case strings.Contains(spec, "/"):
		return parseRepoSpec("github.com", spec)

	default:
		name, version := splitAt(spec, "@")
		return &ParsedSpec{Type: "npm", Name: name, Version: version}, nil
	}
}

func parseRepoSpec(host, rest string) (*ParsedSpec, error) {
	body, ref := splitAt(rest, "@")
	parts := strings.SplitN(body, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo spec %q: want owner/repo", rest)
	}
	owner, repo := parts[0], parts[1]
	return &ParsedSpec{
		Type:    "repo",
		Name:    host + "/" + owner + "/" + repo,
		Version: ref,
		Host:    host,
		Owner:   owner,
		Repo:    repo,
	}, nil
}

func splitAt(s, sep string) (head, tail string) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):]
	}
	return s, ""
}
