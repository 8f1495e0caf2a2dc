// Package repolist loads the list of repositories to collect from.
package repolist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/ci-collect/internal/domain"
)

// Entry is one repository to process. Workflow, when set, overrides the
// global workflow filter for this repository (YAML lists only).
type Entry struct {
	Repo     string
	Workflow string
}

// Load reads the repository list at path. Files ending in .yaml or .yml are
// parsed as YAML documents; everything else is treated as plain text with
// one owner/name per line, blank lines and #-comments skipped.
//
// In strict mode a missing file or an empty result is a fatal error. In
// lenient mode (the default) a missing file is still an error, but an
// existing file with no usable entries yields an empty list.
func Load(path string, strict bool) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = loadYAML(path)
	default:
		entries, err = loadText(path)
	}
	if err != nil {
		return nil, err
	}
	if strict && len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyRepoList, path)
	}
	return entries, nil
}

func loadText(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repos file: %w", err)
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		entries = append(entries, Entry{Repo: s})
	}
	return entries, nil
}

// yamlEntry accepts either a bare "owner/name" string or a mapping with
// repo and an optional per-repository workflow filter.
type yamlEntry struct {
	Repo     string `yaml:"repo"`
	Workflow string `yaml:"workflow"`
}

func (e *yamlEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.Repo)
	}
	type raw yamlEntry
	return node.Decode((*raw)(e))
}

type yamlList struct {
	Repos []yamlEntry `yaml:"repos"`
}

func loadYAML(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repos file: %w", err)
	}

	var list yamlList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse repos file: %w", err)
	}

	var entries []Entry
	for _, r := range list.Repos {
		repo := strings.TrimSpace(r.Repo)
		if repo == "" || strings.HasPrefix(repo, "#") {
			continue
		}
		entries = append(entries, Entry{Repo: repo, Workflow: r.Workflow})
	}
	return entries, nil
}
