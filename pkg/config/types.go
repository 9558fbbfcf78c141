package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/BoardAI/catalysst/pkg/engine"
)

// CandidatePaths are the repository paths searched for a config file, in order.
var CandidatePaths = []string{
	"sst-config.yml",
	"sst-config.yaml",
	".github/sst-config.yml",
	".github/sst-config.yaml",
}

// Hard-coded defaults applied before any server or repository file.
const (
	DefaultWorkspace     = "procuro"
	DefaultDefaultBranch = "feat/ci-cd-actions"
	DefaultWorkflowID    = "sst.yml"
)

// Effective is the configuration a single event is planned against.
type Effective = engine.RepoConfig

// Defaults returns a fresh copy of the built-in repository configuration.
func Defaults() *engine.RepoConfig {
	return &engine.RepoConfig{
		Workspace:     DefaultWorkspace,
		DefaultBranch: DefaultDefaultBranch,
		WorkflowID:    DefaultWorkflowID,
		BranchMappings: map[string]string{
			"staging": "staging",
			"main":    "prod",
		},
	}
}

// File is the on-disk shape of a repository config file or of the server
// defaults file. Nil fields leave the underlying value untouched.
type File struct {
	Workspace     *string `yaml:"sstWorkspace"`
	DefaultBranch *string `yaml:"defaultBranch"`
	WorkflowID    *string `yaml:"workflowId"`

	// BranchMappings is merged key by key. An empty value removes the mapping.
	BranchMappings map[string]string `yaml:"branchMappings"`
}

// ParseFile decodes a YAML config file. An empty document is valid and
// overrides nothing.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, engine.NewPermanentError("failed to parse config file", err).
			WithCode(engine.ErrCodeMalformedConfig)
	}
	return &f, nil
}

// Clone returns a deep copy of cfg.
func Clone(cfg *engine.RepoConfig) *engine.RepoConfig {
	out := *cfg
	out.BranchMappings = make(map[string]string, len(cfg.BranchMappings))
	for k, v := range cfg.BranchMappings {
		out.BranchMappings[k] = v
	}
	return &out
}

// Merge returns base with f applied on top. base is not modified.
func Merge(base *engine.RepoConfig, f *File) *engine.RepoConfig {
	out := Clone(base)
	if f == nil {
		return out
	}

	if f.Workspace != nil {
		out.Workspace = *f.Workspace
	}
	if f.DefaultBranch != nil {
		out.DefaultBranch = *f.DefaultBranch
	}
	if f.WorkflowID != nil {
		out.WorkflowID = *f.WorkflowID
	}
	for branch, stage := range f.BranchMappings {
		if stage == "" {
			delete(out.BranchMappings, branch)
			continue
		}
		out.BranchMappings[branch] = stage
	}

	return out
}

// Describe renders cfg as YAML in the repository file format.
func Describe(cfg *engine.RepoConfig) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
