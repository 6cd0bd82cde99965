package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"ba-agent-core/internal/errors"
)

// splitCommand performs shell-style whitespace splitting sufficient to
// extract the leading executable token. It does not interpret quoting
// beyond stripping a simple leading/trailing quote pair, matching the
// conservative behaviour a line scanner (rather than a real shell) can
// offer without executing anything.
func splitCommand(cmdline string) []string {
	fields := strings.Fields(cmdline)
	for i, f := range fields {
		if len(f) >= 2 && (f[0] == '\'' || f[0] == '"') && f[len(f)-1] == f[0] {
			fields[i] = f[1 : len(f)-1]
		}
	}
	return fields
}

// validateCommand rejects any command whose executable is not present in
// the configured allow-list, before any container is started.
func validateCommand(cmdline string, allowlist []string) error {
	fields := splitCommand(cmdline)
	if len(fields) == 0 {
		return errors.New(errors.KindBadInput, "empty command")
	}
	exe := fields[0]
	for _, allowed := range allowlist {
		if exe == allowed {
			return nil
		}
	}
	return errors.New(errors.KindNotPermitted, fmt.Sprintf("command %q is not on the allow-list", exe)).
		WithDetails(map[string]interface{}{"executable": exe})
}

var (
	importLineRe   = regexp.MustCompile(`^\s*(?:import\s+([\w.]+)|from\s+([\w.]+)\s+import\b)`)
	dynamicCallRe  = regexp.MustCompile(`\b(exec|eval|__import__)\s*\(`)
	openForWriteRe = regexp.MustCompile(`\bopen\s*\([^)]*['"](?:w|a|x)[b+]?['"]`)
)

// validateCode runs a line/token scan over Python source, rejecting:
//   - imports of any module outside the configured module allow-list
//   - direct calls to exec/eval/__import__
//   - file opens in a write/append/create mode
//
// This is deliberately not a full AST parse: no Python AST library exists
// in this project's dependency surface, so the scan works line by line
// and leans on regexp for the patterns that matter for sandboxing.
func validateCode(code string, moduleAllowlist []string) error {
	allowed := make(map[string]bool, len(moduleAllowlist))
	for _, m := range moduleAllowlist {
		allowed[m] = true
	}

	for i, line := range strings.Split(code, "\n") {
		lineNo := i + 1

		if m := importLineRe.FindStringSubmatch(line); m != nil {
			module := m[1]
			if module == "" {
				module = m[2]
			}
			root := strings.SplitN(module, ".", 2)[0]
			if !allowed[root] {
				return errors.New(errors.KindNotPermitted, fmt.Sprintf("import of module %q is not allowed", module)).
					WithDetails(map[string]interface{}{"line": lineNo, "module": module})
			}
		}

		if dynamicCallRe.MatchString(line) {
			return errors.New(errors.KindNotPermitted, "use of exec/eval/__import__ is not allowed").
				WithDetails(map[string]interface{}{"line": lineNo})
		}

		if openForWriteRe.MatchString(line) {
			return errors.New(errors.KindNotPermitted, "file writes are not allowed").
				WithDetails(map[string]interface{}{"line": lineNo})
		}
	}
	return nil
}
