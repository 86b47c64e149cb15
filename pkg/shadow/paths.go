package shadow

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// Option configures a table implementation.
type Option func(*Options)

// Options are the settings shared by every table implementation.
type Options struct {
	// ContentKeys enables keyed mode: entries are also indexed by the
	// BLAKE3 digest of their payload.
	ContentKeys bool
}

// WithContentKeys enables keyed mode.
func WithContentKeys() Option {
	return func(o *Options) { o.ContentKeys = true }
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ContentKey returns the hex BLAKE3 digest of data.
func ContentKey(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Parent returns the directory an entry at p registers with, or "" when p
// is top-level (or the root itself).
func Parent(p string) string {
	parent := backend.ParentPath(p)
	if parent == p {
		return ""
	}
	return parent
}

// IsUnder reports whether p lies strictly below dir.
func IsUnder(p, dir string) bool {
	if dir == "" {
		return false
	}
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return p != dir && strings.HasPrefix(p, prefix)
}
