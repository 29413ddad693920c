package fileops

import (
	"strings"

	"path/filepath"

	"github.com/delacroix-m/sandrun/internal/config"
)

// resolvePath canonicalizes p and checks it against the configured
// allow-list of roots, rejecting an escaping path outright rather than
// silently rewriting it to a safe fallback.
func resolvePath(cfg config.FileOpsConfig, p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	if strings.IndexByte(p, 0) != -1 {
		return "", ErrInvalidPath
	}
	if len(p) > cfg.MaxPathLength {
		return "", ErrInvalidPath
	}

	base := "/"
	if len(cfg.AllowedRoots) > 0 {
		base = cfg.AllowedRoots[0]
	}
	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	if !withinAllowedRoots(target, cfg.AllowedRoots) {
		return "", ErrPathEscapes
	}
	return target, nil
}

func withinAllowedRoots(target string, roots []string) bool {
	for _, root := range roots {
		root = filepath.Clean(root)
		if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// denyExecInTmp reports whether a reference to an existing executable
// file under /tmp should be rejected by policy (prevents drop-and-run:
// write a script, chmod it elsewhere, then operate on it under /tmp).
func denyExecInTmp(cfg config.FileOpsConfig, path string, mode uint32, isDir bool) bool {
	if !cfg.DenyExecInTmp || isDir {
		return false
	}
	if mode&0111 == 0 {
		return false
	}
	return path == "/tmp" || strings.HasPrefix(path, "/tmp/")
}
