package session

import "regexp"

// defaultDenyPatterns blocks a small set of commands that are overwhelmingly
// likely to be destructive accidents rather than intentional sandbox use
// (wiping the root filesystem, reformatting a block device, forkbombs).
// This is a fast, shallow check; it is not a sandboxing boundary.
var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-\w+\s+)*-[a-zA-Z]*r[a-zA-Z]*f`),
	regexp.MustCompile(`rm\s+(-\w+\s+)*-[a-zA-Z]*f[a-zA-Z]*r`),
	regexp.MustCompile(`\bmkfs\.\w+`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/(sd|nvme|hd|xvd)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|xvd)\w*\b`),
}

// checkDangerous returns a description of the first deny pattern the
// command matches, or "" if the command is not flagged.
func checkDangerous(cmd string) string {
	for _, p := range defaultDenyPatterns {
		if p.MatchString(cmd) {
			return p.String()
		}
	}
	return ""
}
