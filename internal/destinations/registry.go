// Package destinations resolves caller-supplied service identifiers to the
// endpoints uploads are forwarded to. The registry is loaded once and never
// mutated, so concurrent readers need no locking.
package destinations

import (
	"fmt"
	"net/url"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Supported destination schemes.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeGCS   = "gs"
)

// Destination is where artifacts for one service id are forwarded.
type Destination struct {
	ServiceURL string `yaml:"serviceUrl" json:"serviceUrl"`
}

// IsGCS reports whether the destination is a gs://bucket/prefix location.
func (d Destination) IsGCS() bool {
	u, err := url.Parse(d.ServiceURL)
	return err == nil && u.Scheme == SchemeGCS
}

// Registry is a read-only service id lookup table.
type Registry struct {
	services map[string]Destination
}

type fileFormat struct {
	Services map[string]Destination `yaml:"services"`
}

// Load reads a YAML (or JSON, which is valid YAML) registry file and validates it.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading services config %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing services config: %w", err)
	}

	return New(f.Services)
}

// New builds a registry from an in-memory map. The map is copied.
func New(services map[string]Destination) (*Registry, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("at least one service must be configured")
	}

	copied := make(map[string]Destination, len(services))
	for id, dest := range services {
		if id == "" {
			return nil, fmt.Errorf("service id must not be empty")
		}
		if err := validate(dest); err != nil {
			return nil, fmt.Errorf("service %q: %w", id, err)
		}
		copied[id] = dest
	}
	return &Registry{services: copied}, nil
}

func validate(d Destination) error {
	if d.ServiceURL == "" {
		return fmt.Errorf("serviceUrl is required")
	}
	u, err := url.Parse(d.ServiceURL)
	if err != nil {
		return fmt.Errorf("invalid serviceUrl: %w", err)
	}
	switch u.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return fmt.Errorf("serviceUrl %q has no host", d.ServiceURL)
		}
	case SchemeGCS:
		if u.Host == "" {
			return fmt.Errorf("serviceUrl %q has no bucket", d.ServiceURL)
		}
	default:
		return fmt.Errorf("unsupported serviceUrl scheme %q", u.Scheme)
	}
	return nil
}

// Lookup returns the destination for id.
func (r *Registry) Lookup(id string) (Destination, bool) {
	d, ok := r.services[id]
	return d, ok
}

// IDs returns the configured service ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Known reports whether id is registered.
func (r *Registry) Known(id string) bool {
	_, ok := r.services[id]
	return ok
}

// UsesGCS reports whether any destination is a Cloud Storage location.
func (r *Registry) UsesGCS() bool {
	for _, d := range r.services {
		if d.IsGCS() {
			return true
		}
	}
	return false
}
