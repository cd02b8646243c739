// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package team

import (
	"os"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Member is one person shown in the team section.
type Member struct {
	ID   string `yaml:"id" json:"id" jsonschema:"pattern=^[0-9]+$,maxLength=20,description=Discord user id (snowflake)"`
	Name string `yaml:"name" json:"name" jsonschema:"minLength=1,description=Display name"`
}

// Roster is the ordered list of team members.
type Roster struct {
	Members []Member `yaml:"members" json:"members" jsonschema:"minItems=1"`
}

// DefaultRoster returns the built-in team.
func DefaultRoster() Roster {
	return Roster{Members: []Member{
		{ID: "361164855623024641", Name: "Null"},
		{ID: "1226751090427559966", Name: "Gensis"},
		{ID: "627177737358147594", Name: "bezydll"},
		{ID: "1361430335782518995", Name: "vortex"},
		{ID: "945370152298504304", Name: "saintcn2"},
	}}
}

// LoadRoster reads and validates a YAML roster. An empty path yields the
// default roster.
func LoadRoster(path string) (Roster, error) {
	if path == "" {
		return DefaultRoster(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, oops.Code("ROSTER_READ_FAILED").With("path", path).Wrap(err)
	}
	return ParseRoster(data)
}

// ParseRoster validates data against the roster schema and decodes it.
func ParseRoster(data []byte) (Roster, error) {
	if err := ValidateRoster(data); err != nil {
		return Roster{}, err
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Roster{}, oops.Code("ROSTER_INVALID").Wrap(err)
	}
	return r, nil
}
