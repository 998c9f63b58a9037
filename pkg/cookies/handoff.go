package cookies

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideHandoffDir is returned for a handoff path that escapes the
// configured handoff directory.
var ErrOutsideHandoffDir = errors.New("path is outside the handoff directory")

// HandoffName is the default cookie file name for domain.
func HandoffName(domain string) string {
	return strings.ReplaceAll(NormalizeDomain(domain), ":", "_") + "-cookies.txt"
}

// ResolveHandoffPath decides where a handoff file is written.
//
// Without a handoff directory the requested path is used as given (after
// tilde expansion) and must not be empty. With one, an empty request selects
// dir/HandoffName(domain), relative requests are joined onto dir, and the
// result must stay inside dir once symlinks are resolved.
func ResolveHandoffPath(dir, requested, domain string) (string, error) {
	requested, err := expandHome(requested)
	if err != nil {
		return "", err
	}

	if dir == "" {
		if requested == "" {
			return "", errors.New("path is required")
		}
		return filepath.Clean(requested), nil
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve handoff directory: %w", err)
	}
	root = resolveSymlinks(root)

	if requested == "" {
		requested = HandoffName(domain)
	}
	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = resolveSymlinks(filepath.Clean(target))

	if target == root || !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideHandoffDir, requested)
	}
	return target, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand ~: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}

// resolveSymlinks evaluates symlinks in the longest existing prefix of path
// and re-attaches the components that do not exist yet.
func resolveSymlinks(path string) string {
	var missing []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
