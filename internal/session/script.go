package session

import (
	"fmt"
	"strings"

	"github.com/delacroix-m/sandrun/protocol"
)

// shQuote wraps s in single quotes, escaping embedded single quotes, so it
// can be safely interpolated into a shell script as one word.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// splitEnv splits a "KEY=VALUE" entry. Malformed entries are skipped by the
// caller.
func splitEnv(kv string) (key, value string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx <= 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}

// labelerScript emits the two background "while read" loops that copy a
// command's stdout/stderr FIFOs into its shared output log, prefixing every
// line with a marker byte sequence so the reader can tell the streams
// apart again. Returns the script fragment and the two labeler job
// variable names to `wait` on afterward.
func labelerScript(h *CommandHandle) (string, string, string) {
	outVar, errVar := "__out_"+h.ID, "__err_"+h.ID
	var b strings.Builder
	fmt.Fprintf(&b, "while IFS= read -r __l || [ -n \"$__l\" ]; do printf '%s%%s\\n' \"$__l\"; done < %s >> %s &\n",
		protocol.StdoutMarker, shQuote(h.StdoutFifoPath), shQuote(h.OutputLogPath))
	fmt.Fprintf(&b, "%s=$!\n", outVar)
	fmt.Fprintf(&b, "while IFS= read -r __l || [ -n \"$__l\" ]; do printf '%s%%s\\n' \"$__l\"; done < %s >> %s &\n",
		protocol.StderrMarker, shQuote(h.StderrFifoPath), shQuote(h.OutputLogPath))
	fmt.Fprintf(&b, "%s=$!\n", errVar)
	return b.String(), outVar, errVar
}

// buildForegroundScript assembles the single script written to the shell's
// stdin for a foreground command. Transient cwd/env are saved and restored
// around the command so they do not outlive it, while anything the command
// itself exports or cd's into persists on the session as normal shell
// state.
func buildForegroundScript(h *CommandHandle, req ExecRequest) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "mkfifo %s %s\n", shQuote(h.StdoutFifoPath), shQuote(h.StderrFifoPath))
	labelers, outVar, errVar := labelerScript(h)
	b.WriteString(labelers)

	if req.Cwd != "" {
		b.WriteString("__sandrun_pwd=\"$PWD\"\n")
		fmt.Fprintf(&b, "cd %s 2>/dev/null || true\n", shQuote(req.Cwd))
	}

	var restoreEnv []string
	for _, kv := range req.Env {
		key, value, ok := splitEnv(kv)
		if !ok {
			continue
		}
		saveVar := "__save_" + key
		fmt.Fprintf(&b, "%s=\"${%s-__sandrun_unset__}\"\n", saveVar, key)
		fmt.Fprintf(&b, "export %s=%s\n", key, shQuote(value))
		restoreEnv = append(restoreEnv, fmt.Sprintf(
			"if [ \"$%s\" = __sandrun_unset__ ]; then unset %s; else export %s=\"$%s\"; fi\n",
			saveVar, key, key, saveVar))
	}

	b.WriteString("{\n")
	b.WriteString(req.Command)
	b.WriteString("\n}")
	fmt.Fprintf(&b, " > %s 2> %s\n", shQuote(h.StdoutFifoPath), shQuote(h.StderrFifoPath))
	b.WriteString("__sandrun_ec=$?\n")

	for _, line := range restoreEnv {
		b.WriteString(line)
	}
	if req.Cwd != "" {
		b.WriteString("cd \"$__sandrun_pwd\" 2>/dev/null || true\n")
	}

	// Labelers must drain the FIFOs and finish appending to the output log
	// before the exit-code file appears, or a poller could observe the exit
	// code before the last lines of output.
	fmt.Fprintf(&b, "wait \"$%s\" \"$%s\"\n", outVar, errVar)
	fmt.Fprintf(&b, "rm -f %s %s\n", shQuote(h.StdoutFifoPath), shQuote(h.StderrFifoPath))
	fmt.Fprintf(&b, "echo $__sandrun_ec > %s\n", shQuote(h.ExitCodePath))

	return []byte(b.String())
}

// buildBackgroundScript assembles the script for a detached command. The
// command runs in a subshell inheriting the session's current directory
// (optionally overridden by a transient cwd) so the main shell can read
// the next script the instant this one is submitted.
func buildBackgroundScript(h *CommandHandle, req ExecRequest) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "mkfifo %s %s\n", shQuote(h.StdoutFifoPath), shQuote(h.StderrFifoPath))
	labelers, outVar, errVar := labelerScript(h)
	b.WriteString(labelers)

	b.WriteString("(\n")
	if req.Cwd != "" {
		fmt.Fprintf(&b, "cd %s 2>/dev/null || exit 127\n", shQuote(req.Cwd))
	}
	for _, kv := range req.Env {
		key, value, ok := splitEnv(kv)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "export %s=%s\n", key, shQuote(value))
	}
	b.WriteString(req.Command)
	b.WriteString("\n)")
	fmt.Fprintf(&b, " > %s 2> %s &\n", shQuote(h.StdoutFifoPath), shQuote(h.StderrFifoPath))
	b.WriteString("__sandrun_cmd_pid=$!\n")
	fmt.Fprintf(&b, "echo $__sandrun_cmd_pid > %s\n", shQuote(h.PidPath))
	fmt.Fprintf(&b, "( wait \"$__sandrun_cmd_pid\"; __sandrun_ec=$?; wait \"$%s\" \"$%s\"; rm -f %s %s; echo $__sandrun_ec > %s ) &\n",
		outVar, errVar, shQuote(h.StdoutFifoPath), shQuote(h.StderrFifoPath), shQuote(h.ExitCodePath))

	return []byte(b.String())
}
