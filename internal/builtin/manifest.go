package builtin

import (
	"fmt"
	"os"
	"time"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"gopkg.in/yaml.v3"
)

// Manifest lists command jobs to register at startup
type Manifest struct {
	Jobs []ManifestJob `yaml:"jobs"`
}

// ManifestJob is one command job entry
type ManifestJob struct {
	Key            string `yaml:"key"`
	Command        string `yaml:"command"`
	Dir            string `yaml:"dir,omitempty"`
	MaxRunDuration string `yaml:"max_run_duration,omitempty"` // e.g. "30s"
}

// ParseManifest parses a YAML manifest into command jobs
func ParseManifest(data []byte) ([]Command, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	commands := make([]Command, 0, len(manifest.Jobs))
	for i, job := range manifest.Jobs {
		if job.Key == "" {
			return nil, fmt.Errorf("job %d: key is required", i)
		}
		if job.Command == "" {
			return nil, fmt.Errorf("job %s: command is required", job.Key)
		}

		var maxDuration time.Duration
		if job.MaxRunDuration != "" {
			d, err := time.ParseDuration(job.MaxRunDuration)
			if err != nil {
				return nil, fmt.Errorf("job %s: invalid max_run_duration: %w", job.Key, err)
			}
			maxDuration = d
		}

		commands = append(commands, Command{
			Key:            job.Key,
			Command:        job.Command,
			Dir:            job.Dir,
			MaxRunDuration: maxDuration,
		})
	}
	return commands, nil
}

// LoadManifest reads and parses the manifest at path
func LoadManifest(path string) ([]Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Registry is where job definitions get registered
type Registry interface {
	Register(def jobs.Definition) error
}

// Register adds the echo job and every command from the manifest at
// manifestPath (if set) to reg
func Register(reg Registry, manifestPath string) error {
	if err := reg.Register(Echo()); err != nil {
		return err
	}
	if manifestPath == "" {
		return nil
	}

	commands, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	for _, c := range commands {
		if err := reg.Register(c.Definition()); err != nil {
			return err
		}
	}
	return nil
}
