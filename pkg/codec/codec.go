// Package codec converts structured payloads to and from their on-disk form.
//
// The cache layer stores structured values as encoded bytes and the directory
// orchestrator names record files with the codec extension, so the codec is
// the single place that decides what a record looks like on disk.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCodec is returned by ByName for unsupported names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes and decodes structured values.
type Codec interface {
	// Name is the configuration name ("json", "yaml", "cbor").
	Name() string

	// Extension is the file extension including the dot (".json").
	Extension() string

	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v. On error v may be partially written;
	// callers that need all-or-nothing decode into a scratch value first.
	Unmarshal(data []byte, v any) error
}

// Default is the codec used when none is configured.
var Default Codec = JSON

// ByName returns the codec registered under name (case-insensitive).
// An empty name selects Default.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Default, nil
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: json, yaml, cbor)", ErrUnknownCodec, name)
	}
}

// HasExtension reports whether name ends with the codec extension.
func HasExtension(c Codec, name string) bool {
	return strings.HasSuffix(name, c.Extension())
}
