package badger

import (
	"strings"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so prefixed keys organize the table into
// namespaces that support point lookups and range scans:
//
// Data Type        Prefix  Key Format              Value
// ==========================================================
// Directory        "d:"    d:<path>                (empty)
// Children         "c:"    c:<parent>\x00<child>   (empty)
// File entry       "f:"    f:<path>                FileEntry (JSON)
// Content key      "k:"    k:<digest>\x00<path>    (empty)
//
// Paths are cleaned logical paths, so byte order of the keys equals the
// lexical order of the paths. All entries below a directory share the prefix
// "<kind>:<dir>/", which makes cascading removal a prefix scan.

const (
	prefixDir      = "d:"
	prefixChild    = "c:"
	prefixFile     = "f:"
	prefixKeyIndex = "k:"

	sep = "\x00"
)

func dirKey(path string) []byte {
	return []byte(prefixDir + path)
}

func fileKey(path string) []byte {
	return []byte(prefixFile + path)
}

func childKey(parent, child string) []byte {
	return []byte(prefixChild + parent + sep + child)
}

// childPrefix is the scan prefix for every child of parent.
func childPrefix(parent string) []byte {
	return []byte(prefixChild + parent + sep)
}

func indexKey(digest, path string) []byte {
	return []byte(prefixKeyIndex + digest + sep + path)
}

func indexPrefix(digest string) []byte {
	return []byte(prefixKeyIndex + digest + sep)
}

// subtreePrefix returns the path prefix shared by everything below dir.
func subtreePrefix(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// afterSep returns the part of key following the first separator.
func afterSep(key []byte) string {
	s := string(key)
	if i := strings.Index(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return ""
}
