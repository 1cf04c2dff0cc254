package core

import (
	"path/filepath"
	"strings"
)

// RepoConfig is the structure of an optional .reviewcore.yml at the root of
// a reviewed repository. It lets repository owners steer the review without
// touching server configuration.
type RepoConfig struct {
	// Extra instructions appended to the review prompt.
	CustomInstructions []string `yaml:"custom_instructions"`

	// Directories whose files never become seeds. Their hunks still appear
	// in the prompt, and findings on them are anchored and published like
	// any other.
	// Example: ["dist", "vendor", "docs"]
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// File extensions whose files never become seeds; as with ExcludeDirs,
	// their hunks are still reviewed. Leading dot optional.
	// Example: [".md", "lock", ".log"]
	ExcludeExts []string `yaml:"exclude_exts"`
}

// DefaultRepoConfig returns an empty config.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{
		CustomInstructions: []string{},
		ExcludeDirs:        []string{},
		ExcludeExts:        []string{},
	}
}

// Excludes reports whether path is excluded by directory or extension rules.
func (c *RepoConfig) Excludes(path string) bool {
	for _, dir := range c.ExcludeDirs {
		prefix := strings.TrimSuffix(dir, "/") + "/"
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, e := range c.ExcludeExts {
		if strings.TrimPrefix(e, ".") == ext && ext != "" {
			return true
		}
	}
	return false
}
