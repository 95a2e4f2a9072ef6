package guildconfig

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource serves guild settings from a static YAML document, for
// deployments where guilds are configured by the operator instead of through
// the admin command surface. The document is read once; edits require a
// restart.
type FileSource struct {
	configs map[string]GuildConfig
}

type fileDoc struct {
	Guilds []GuildConfig `yaml:"guilds"`
}

// LoadFile reads a YAML guild configuration document from disk.
func LoadFile(path string) (*FileSource, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("guildconfig: can't open %s: %w", path, err)
	}
	defer fin.Close()

	return parseFile(fin)
}

func parseFile(r io.Reader) (*FileSource, error) {
	var doc fileDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("guildconfig: can't parse document: %w", err)
	}

	result := &FileSource{
		configs: map[string]GuildConfig{},
	}

	for _, gc := range doc.Guilds {
		if err := gc.Valid(); err != nil {
			return nil, fmt.Errorf("guildconfig: guild %q: %w", gc.GuildID, err)
		}

		if _, ok := result.configs[gc.GuildID]; ok {
			return nil, fmt.Errorf("guildconfig: guild %q is configured twice", gc.GuildID)
		}

		result.configs[gc.GuildID] = gc
	}

	return result, nil
}

func (fs *FileSource) Get(_ context.Context, guildID string) (GuildConfig, error) {
	gc, ok := fs.configs[guildID]
	if !ok {
		return GuildConfig{}, fmt.Errorf("%w: %q", ErrNotFound, guildID)
	}

	return gc, nil
}
