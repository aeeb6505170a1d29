// Package registry holds the immutable catalog of tracked CI jobs.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/caevv/buildwatch/internal/config"
)

var (
	// ErrUnknownJob is returned when a job id is not in the catalog.
	ErrUnknownJob = errors.New("unknown job")
	// ErrUnknownDimension is returned when a parameter name is not a
	// dimension of the job's kind.
	ErrUnknownDimension = errors.New("unknown dimension")
)

// Kind is the resolved form of a config kind.
type Kind struct {
	Name       string
	Dimensions []string
	tag        *config.TagRule
}

// HasDimension reports whether name is one of the kind's dimensions.
func (k Kind) HasDimension(name string) bool {
	return slices.Contains(k.Dimensions, name)
}

// CheckDimension returns ErrUnknownDimension unless name belongs to the kind.
func (k Kind) CheckDimension(name string) error {
	if !k.HasDimension(name) {
		return fmt.Errorf("%w: %s is not a dimension of %s", ErrUnknownDimension, name, k.Name)
	}
	return nil
}

// PrimaryDimension is the group-by axis used for per-dimension stats and
// attribution.
func (k Kind) PrimaryDimension() string {
	return k.Dimensions[0]
}

// Job is a single tracked CI job.
type Job struct {
	ID         string
	Name       string
	RemotePath string
	Kind       Kind
}

// DeriveTag computes the release tag for build number from its parameters.
// It returns "" when the kind has no tag rule or the version parameter is
// missing.
func (j *Job) DeriveTag(number int, params map[string]string) string {
	rule := j.Kind.tag
	if rule == nil {
		return ""
	}
	version := params[rule.VersionParam]
	if version == "" {
		return ""
	}

	tag := version + "." + strconv.Itoa(number)
	if rule.TargetParam != "" {
		if target := params[rule.TargetParam]; target != "" && target != rule.DefaultTarget {
			tag += "-" + target
		}
	}
	return tag
}

// Registry is the catalog. It is built once and never mutated.
type Registry struct {
	jobs  []*Job
	index map[string]*Job
}

// New builds a registry from a loaded configuration, preserving job order.
func New(cfg *config.Config) (*Registry, error) {
	r := &Registry{index: make(map[string]*Job, len(cfg.Jobs))}

	for _, j := range cfg.Jobs {
		kc, ok := cfg.Kinds[j.Kind]
		if !ok {
			return nil, fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
		}
		if len(kc.Dimensions) == 0 {
			return nil, fmt.Errorf("job %s: kind %s has no dimensions", j.ID, j.Kind)
		}
		if _, dup := r.index[j.ID]; dup {
			return nil, fmt.Errorf("duplicate job ID: %s", j.ID)
		}

		job := &Job{
			ID:         j.ID,
			Name:       j.Name,
			RemotePath: j.Path,
			Kind: Kind{
				Name:       j.Kind,
				Dimensions: slices.Clone(kc.Dimensions),
				tag:        kc.Tag,
			},
		}
		if job.Name == "" {
			job.Name = job.ID
		}
		r.jobs = append(r.jobs, job)
		r.index[job.ID] = job
	}

	return r, nil
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Job, error) {
	job, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return job, nil
}

// All returns the jobs in configuration order.
func (r *Registry) All() []*Job {
	return slices.Clone(r.jobs)
}

// IDs returns the job ids in configuration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		ids[i] = j.ID
	}
	return ids
}

// Len is the number of registered jobs.
func (r *Registry) Len() int {
	return len(r.jobs)
}
