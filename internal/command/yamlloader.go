package command

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// CommandsFile is the top-level structure of an Earshot command-set YAML
// file.
//
// Example:
//
//	set:
//	  name: "desktop default"
//	commands:
//	  - id: open_chrome
//	    category: app_control
//	    phrases: ["open chrome", "launch chrome"]
//	    description: "Open the Google Chrome browser."
type CommandsFile struct {
	Set      SetMeta             `yaml:"set"`
	Commands []CommandDefinition `yaml:"commands"`
}

// SetMeta holds top-level metadata for a command set.
type SetMeta struct {
	// Name is the command set's display name, used in startup logs.
	Name string `yaml:"name"`

	// Description is a free-text summary of the set.
	Description string `yaml:"description"`
}

// LoadCommandsFile reads and parses a command-set YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadCommandsFile(path string) (*CommandsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("command: open commands file %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadCommandsFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("command: parse commands file %q: %w", path, err)
	}
	return cf, nil
}

// LoadCommandsFromReader parses command-set YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadCommandsFromReader(r io.Reader) (*CommandsFile, error) {
	var cf CommandsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("command: decode commands yaml: %w", err)
	}
	return &cf, nil
}
