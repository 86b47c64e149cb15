package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const sampleHeader = `# shadowfs Configuration File
#
# Every setting can be overridden from the environment with the SHADOWFS_
# prefix, e.g. SHADOWFS_LOGGING_LEVEL=DEBUG or SHADOWFS_CACHE_SYNC_INTERVAL=10s.

`

// sectionComments are written above the top-level keys of a sample file.
var sectionComments = map[string]string{
	"logging":   "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output\n(stdout, stderr or a file path; files are rotated).",
	"server":    "Time allowed for the final flush and the retry drain on shutdown.",
	"backend":   "Durable backend: filesystem, memory or s3.\nThe s3 section takes bucket, region, endpoint, key_prefix,\naccess_key_id, secret_access_key, max_retries and force_path_style.",
	"cache":     "Write-back cache layer. table.type is memory or badger\n(badger takes db_path or in_memory). codec is json, yaml or cbor.\nsync_interval 0 flushes dirty entries only on shutdown.",
	"retry":     "Operations that exhaust the backend (ENOSPC, EMFILE, S3 throttling)\nare replayed from this queue at rate_per_second.",
	"directory": "Records loaded by \"shadowfs start\" from default_directory/records_dir\nand written back every backup_interval.",
	"metrics":   "Prometheus endpoint at http://<host>:<port>/metrics.",
}

// InitConfig writes a sample configuration to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file exists (and force is false) or cannot be written
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if comment, ok := sectionComments[root.Content[i].Value]; ok {
			root.Content[i].HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(sampleHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}
