package plugin

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/echoes-blog/echoes/internal/serial"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Manifest describes a plugin. Name is its unique id and the source its
// capabilities and extensions are registered under.
type Manifest struct {
	Name          string               `json:"name"`
	Version       string               `json:"version"`
	DisplayName   string               `json:"displayName"`
	Description   string               `json:"description,omitempty"`
	Author        string               `json:"author,omitempty"`
	Icon          string               `json:"icon,omitempty"`
	ManagePath    string               `json:"managePath,omitempty"`
	Configuration serial.Configuration `json:"configuration,omitempty"`
	Routes        []RouteRef           `json:"routes,omitempty"`
}

type RouteRef struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

func (m Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin manifest must have a name")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("plugin name %q must be lowercase letters, digits, '-' or '_'", m.Name)
	}
	if m.DisplayName == "" {
		return fmt.Errorf("plugin manifest must have a display name")
	}
	if m.Version == "" {
		return fmt.Errorf("plugin manifest must have a version")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("plugin %q has an invalid version %q: %w", m.Name, m.Version, err)
	}
	return nil
}
