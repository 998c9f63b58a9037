package engine

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Flags that would let loaded content escape the partition or the same-origin
// policy. They are stripped from user supplied launch args.
var forbiddenFlags = map[string]bool{
	"disable-web-security":                true,
	"disable-site-isolation-trials":       true,
	"allow-file-access-from-files":        true,
	"allow-universal-access-from-files":   true,
	"remote-allow-origins":                true,
	"user-data-dir":                       true,
	"no-sandbox":                          true,
	"disable-features":                    true,
	"enable-automation-extension-loading": true,
	"load-extension":                      true,
}

// SanitizeArgs drops empty and forbidden flags and normalizes the rest to the
// "--name[=value]" form.
func SanitizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, raw := range args {
		flag := strings.TrimLeft(strings.TrimSpace(raw), "-")
		if flag == "" {
			continue
		}
		name, _, _ := strings.Cut(flag, "=")
		if forbiddenFlags[strings.ToLower(name)] {
			continue
		}
		out = append(out, "--"+flag)
	}
	return out
}

var partitionUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// PartitionDir returns the directory holding a persistent partition, or "" when
// the partition is in-memory.
func PartitionDir(dataDir, partitionID string) string {
	if dataDir == "" {
		return ""
	}
	name := partitionUnsafe.ReplaceAllString(strings.TrimPrefix(partitionID, "persist:"), "_")
	if name == "" || name == "." || name == ".." {
		name = "default"
	}
	return filepath.Join(dataDir, "partitions", name)
}
