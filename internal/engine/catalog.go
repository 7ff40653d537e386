package engine

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opsforge/remedy-engine/internal/models"
)

// Catalog is the policy table mapping classification labels to remediation
// procedures. It is the authoritative side of every procedure decision: the
// oracle proposes, the catalog disposes.
type Catalog struct {
	logger       *slog.Logger
	entries      map[string]models.Playbook
	fallback     models.Playbook
	storageEntry models.Playbook
	cpuEntry     models.Playbook
}

// storageRootTokens are substrings that mark a label as storage-related even
// when it is not an exact catalog key, e.g. "var_full" or "low_disk_space".
var storageRootTokens = []string{"disk", "storage", "filesystem", "space"}

type catalogFile struct {
	Default  *catalogEntry           `yaml:"default"`
	Mappings map[string]catalogEntry `yaml:"mappings"`
}

type catalogEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NewCatalog loads the policy table from path. An empty path or a missing
// file falls back to the built-in table.
func NewCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{
		logger:  logger,
		entries: builtinEntries(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var file catalogFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parse playbook policy %s: %w", path, err)
			}
			for label, entry := range file.Mappings {
				c.entries[strings.ToLower(label)] = models.Playbook{
					ID:          entry.ID,
					Name:        entry.Name,
					Description: entry.Description,
				}
			}
			if file.Default != nil {
				c.entries["default"] = models.Playbook{
					ID:          file.Default.ID,
					Name:        file.Default.Name,
					Description: file.Default.Description,
				}
			}
		case os.IsNotExist(err):
			logger.Warn("playbook policy file missing, using built-in table", slog.String("path", path))
		default:
			return nil, fmt.Errorf("read playbook policy %s: %w", path, err)
		}
	}

	c.fallback = c.entries["default"]
	if c.fallback.ID == "" {
		return nil, fmt.Errorf("playbook policy has no default entry")
	}
	c.storageEntry = c.entries["disk_full"]
	if c.storageEntry.ID == "" {
		c.storageEntry = c.fallback
	}
	c.cpuEntry = c.entries["high_cpu"]
	if c.cpuEntry.ID == "" {
		c.cpuEntry = c.fallback
	}
	return c, nil
}

func builtinEntries() map[string]models.Playbook {
	demo := models.Playbook{ID: "7", Name: "Demo Job Template", Description: "General purpose remediation job"}
	cleanup := models.Playbook{ID: "10", Name: "Clean up var filesystem", Description: "Remove stale logs and caches from full filesystems"}
	cpu := models.Playbook{ID: "9", Name: "check_cpu_utilization", Description: "Inspect and report per-process CPU usage"}

	return map[string]models.Playbook{
		"default":           demo,
		"server_down":       demo,
		"high_cpu":          cpu,
		"high_memory":       demo,
		"disk_full":         cleanup,
		"database_down":     demo,
		"network_error":     cpu,
		"application_crash": demo,
	}
}

// Lookup resolves a classification label to its procedure. Labels without an
// exact entry still resolve when they carry a storage root token.
func (c *Catalog) Lookup(label string) (models.Playbook, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	if key == "" || key == "default" {
		return models.Playbook{}, false
	}
	if pb, ok := c.entries[key]; ok {
		return pb, true
	}
	for _, token := range storageRootTokens {
		if strings.Contains(key, token) {
			return c.storageEntry, true
		}
	}
	return models.Playbook{}, false
}

// Default returns the catch-all procedure used when no label matches.
func (c *Catalog) Default() models.Playbook { return c.fallback }

// StorageCleanup returns the procedure forced for storage-exhaustion labels.
func (c *Catalog) StorageCleanup() models.Playbook { return c.storageEntry }

// CPUCheck returns the procedure forced for the high_cpu label.
func (c *Catalog) CPUCheck() models.Playbook { return c.cpuEntry }

// Labels returns the known label vocabulary, sorted, excluding the default
// pseudo-entry. Used as the hint list sent to the oracle.
func (c *Catalog) Labels() []string {
	labels := make([]string, 0, len(c.entries))
	for label := range c.entries {
		if label == "default" {
			continue
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Contains reports whether id belongs to the policy table.
func (c *Catalog) Contains(id string) bool {
	for _, pb := range c.entries {
		if pb.ID == id {
			return true
		}
	}
	return false
}
