// Package mcpinstall maintains the JSON config file that points a host IDE's
// tool-protocol adapter loader at the bundled external adapter binary.
package mcpinstall

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// ServerName is the key written into the mcpServers map.
const ServerName = "discord-bridge"

// ServerConfig is one entry of the standard {"mcpServers": {...}} document.
type ServerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

type document struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// DefaultConfigPath returns the conventional adapter-config location for the
// current platform. Cursor's own convention (~/.cursor/mcp.json) is used on
// every OS since the path is user-scoped, not OS-scoped.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".cursor", "mcp.json"), nil
}

// Ensure makes sure configPath references adapterPath as the ServerName
// entry, writing the file only when it is absent or stale. It reports
// whether a write occurred.
func Ensure(configPath, adapterPath string) (wrote bool, err error) {
	if runtime.GOOS == "windows" {
		adapterPath = filepath.ToSlash(adapterPath)
	}

	doc, err := readDocument(configPath)
	if err != nil {
		return false, errors.Wrapf(err, "read %s", configPath)
	}

	want := ServerConfig{Command: adapterPath}
	if existing, ok := doc.MCPServers[ServerName]; ok && existing.Command == want.Command {
		return false, nil
	}

	doc.MCPServers[ServerName] = want

	if err := writeDocument(configPath, doc); err != nil {
		return false, errors.Wrapf(err, "write %s", configPath)
	}
	return true, nil
}

func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{MCPServers: map[string]ServerConfig{}}, nil
		}
		return document{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Existing file isn't the shape we expect; treat it as empty, so the
		// write that follows replaces its whole content with our entry.
		return document{MCPServers: map[string]ServerConfig{}}, nil
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]ServerConfig{}
	}
	return doc, nil
}

func writeDocument(path string, doc document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
