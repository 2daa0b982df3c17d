package skill

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/comdaze/openmcpskills/pkg/apierr"
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{2,49}$`)

// frontMatterDelim matches a line containing exactly "---".
var frontMatterDelim = regexp.MustCompile(`(?m)^---[ \t]*$`)

// SplitFrontMatter separates the YAML front matter from the Markdown body
// of a SKILL.md file. The file must begin with a "---" line, contain a
// second "---" line closing the block, and everything after is the body.
func SplitFrontMatter(raw []byte) (frontMatter []byte, body []byte, err error) {
	text := string(raw)
	// Skip a leading BOM/whitespace-only first line oddity; the spec requires
	// the file to begin with the delimiter.
	trimmedStart := strings.TrimLeft(text, "﻿")
	if !strings.HasPrefix(strings.TrimLeft(trimmedStart, " \t"), "---") {
		return nil, nil, fmt.Errorf("SKILL.md must begin with a '---' front-matter delimiter")
	}

	locs := frontMatterDelim.FindAllStringIndex(trimmedStart, -1)
	if len(locs) < 2 {
		return nil, nil, fmt.Errorf("SKILL.md front matter is not closed with a second '---' line")
	}

	fm := trimmedStart[locs[0][1]:locs[1][0]]
	rest := trimmedStart[locs[1][1]:]
	rest = strings.TrimPrefix(rest, "\n")
	return []byte(fm), []byte(rest), nil
}

// rawManifest mirrors the on-disk front-matter shape with yaml tags using
// the spec's hyphenated key names; ParseManifest copies it into Manifest.
type rawManifest struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	License       string   `yaml:"license"`
	AllowedTools  []string `yaml:"allowed-tools"`
	UserInvocable *bool    `yaml:"user-invocable"`
	Model         string   `yaml:"model"`
	Context       string   `yaml:"context"`
	Metadata      struct {
		Author  string   `yaml:"author"`
		Version string   `yaml:"version"`
		Tags    []string `yaml:"tags"`
	} `yaml:"metadata"`
}

// knownTopLevelKeys is used to reject unknown keys per spec §9 ("lightweight
// YAML subset parser ... reject unknown top-level keys").
var knownTopLevelKeys = map[string]bool{
	"name": true, "description": true, "license": true,
	"allowed-tools": true, "user-invocable": true, "model": true,
	"context": true, "metadata": true,
}

// ParseManifest decodes front matter into a Manifest, validating the
// schema described in spec §6 and rejecting unknown top-level keys as
// mandated by the front-matter design note in §9.
func ParseManifest(frontMatter []byte) (Manifest, apierr.ValidationErrors) {
	var errs apierr.ValidationErrors

	var loose map[string]yaml.Node
	if err := yaml.Unmarshal(frontMatter, &loose); err != nil {
		errs.Add("front_matter", fmt.Sprintf("invalid YAML: %v", err))
		return Manifest{}, errs
	}
	for key := range loose {
		if !knownTopLevelKeys[key] {
			errs.Add(key, "unknown top-level manifest key")
		}
	}

	var raw rawManifest
	if err := yaml.Unmarshal(frontMatter, &raw); err != nil {
		errs.Add("front_matter", fmt.Sprintf("invalid YAML: %v", err))
		return Manifest{}, errs
	}

	if !idPattern.MatchString(raw.Name) {
		errs.Add("name", "must match ^[a-z][a-z0-9-]{2,49}$")
	}
	if len(strings.TrimSpace(raw.Description)) < 10 {
		errs.Add("description", "must be at least 10 characters")
	}

	m := Manifest{
		Name:          raw.Name,
		Description:   raw.Description,
		License:       raw.License,
		AllowedTools:  raw.AllowedTools,
		UserInvocable: raw.UserInvocable,
		Model:         raw.Model,
		Context:       raw.Context,
		Metadata: Metadata{
			Author:  raw.Metadata.Author,
			Version: raw.Metadata.Version,
			Tags:    raw.Metadata.Tags,
		},
	}
	return m, errs
}

// ValidID reports whether id matches the skill id pattern from spec §3.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
