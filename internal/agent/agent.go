// Package agent implements the per-assistant adapter contract: startup argv,
// readiness/error detection, prompt framing, and reply-completion detection.
// Everything here is pure capability polymorphism over a small fixed operation
// set (§4.4) — a tagged descriptor, not a deep type hierarchy.
package agent

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Descriptor is the immutable, on-disk configuration for one managed agent
// (spec.md §3's "agent descriptor" and §6's agent descriptor file).
type Descriptor struct {
	Name             string   `yaml:"name"`
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	WorkingDir       string   `yaml:"working_dir"`
	ReadyPattern     string   `yaml:"ready_pattern"`
	ErrorPatterns    []string `yaml:"error_patterns"`
	SentinelTemplate string   `yaml:"sentinel_template"`
	SentinelRegex    string   `yaml:"sentinel_regex"`
	DoneTemplate     string   `yaml:"done_template"`
	DoneRegex        string   `yaml:"done_regex"`
	SupportsCWD      bool     `yaml:"supports_cwd"`
	LogProviderKind  string   `yaml:"log_provider"` // "codex" | "gemini" | "opencode" | "claudecode" | ""
	InterruptBytes   []byte   `yaml:"-"`
}

// DefaultInterruptBytes is sent to cancel in-flight generation when a descriptor
// does not override it: Ctrl-C.
var DefaultInterruptBytes = []byte{0x03}

// Agent is the uniform contract every adapter satisfies (§4.4).
type Agent interface {
	Name() string
	StartupArgv(cwd string) []string
	LogProviderKind() string

	MatchesReady(replayBuffer []byte) bool
	MatchesError(replayBuffer []byte) (string, bool)

	InjectMessage(prompt, requestID string) []byte
	ExtractSentinelID(output string) (string, bool)
	IsReplyComplete(text, requestID string) bool
	StripDoneMarker(text, requestID string) string

	InterruptBytes() []byte
	ShouldAutoRestart(exitCode int) bool
}

// genericAgent implements Agent directly from a Descriptor. It is the adapter
// used for every assistant except the one ("claudecode") that parses its own
// PTY stream natively (see claudecode.go).
type genericAgent struct {
	d Descriptor

	readyRe  *regexp.Regexp
	errorRes []*regexp.Regexp
}

// New builds the adapter for d. Invalid regexes fall back to a pattern that
// never matches, so a misconfigured agent fails closed (stays "not ready")
// rather than panicking the session loop.
func New(d Descriptor) Agent {
	if d.Name == "claudecode" {
		return newClaudeCodeAgent(d)
	}
	return newGenericAgent(d)
}

func newGenericAgent(d Descriptor) *genericAgent {
	g := &genericAgent{d: d}
	g.readyRe = mustCompileOrNever(d.ReadyPattern)
	for _, p := range d.ErrorPatterns {
		g.errorRes = append(g.errorRes, mustCompileOrNever(p))
	}
	return g
}

func mustCompileOrNever(pattern string) *regexp.Regexp {
	if pattern == "" {
		return regexp.MustCompile(`$.^`) // matches nothing
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return regexp.MustCompile(`$.^`)
	}
	return re
}

func (g *genericAgent) Name() string            { return g.d.Name }
func (g *genericAgent) LogProviderKind() string  { return g.d.LogProviderKind }
func (g *genericAgent) InterruptBytes() []byte {
	if len(g.d.InterruptBytes) > 0 {
		return g.d.InterruptBytes
	}
	return DefaultInterruptBytes
}
func (g *genericAgent) ShouldAutoRestart(exitCode int) bool { return exitCode != 0 }

// StartupArgv returns argv for this agent; adapters that declare supports_cwd
// append "--cwd <cwd>" when that path exists.
func (g *genericAgent) StartupArgv(cwd string) []string {
	argv := append([]string{g.d.Command}, g.d.Args...)
	if g.d.SupportsCWD && cwd != "" {
		if st, err := os.Stat(cwd); err == nil && st.IsDir() {
			argv = append(argv, "--cwd", cwd)
		}
	}
	return argv
}

func (g *genericAgent) MatchesReady(replayBuffer []byte) bool {
	return g.readyRe.Match(replayBuffer)
}

func (g *genericAgent) MatchesError(replayBuffer []byte) (string, bool) {
	for _, re := range g.errorRes {
		if re.Match(replayBuffer) {
			return re.String(), true
		}
	}
	return "", false
}

// InjectMessage substitutes {id} and {message} into the sentinel template, then
// appends the fixed trailer instructing the assistant to end its reply with the
// substituted done marker verbatim on its own line (§6).
func (g *genericAgent) InjectMessage(prompt, requestID string) []byte {
	prefix := substitute(g.d.SentinelTemplate, requestID, prompt)
	doneMarker := substitute(g.d.DoneTemplate, requestID, "")

	out := prefix + "\n\n" +
		"IMPORTANT:\n" +
		"- Reply normally, in English.\n" +
		"- End your reply with this exact final line (verbatim, on its own line):\n" +
		doneMarker + "\n"
	return []byte(out)
}

func substitute(template, id, message string) string {
	s := strings.ReplaceAll(template, "{id}", id)
	s = strings.ReplaceAll(s, "{message}", message)
	return s
}

func (g *genericAgent) ExtractSentinelID(output string) (string, bool) {
	re, err := regexp.Compile(g.d.SentinelRegex)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(output)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func (g *genericAgent) doneRegexFor(requestID string) (*regexp.Regexp, error) {
	pattern := strings.ReplaceAll(g.d.DoneRegex, "{id}", regexp.QuoteMeta(requestID))
	return regexp.Compile(pattern)
}

// IsReplyComplete reports whether the last non-blank line of text matches the
// done regex with {id} substituted for the regex-escaped request id.
func (g *genericAgent) IsReplyComplete(text, requestID string) bool {
	re, err := g.doneRegexFor(requestID)
	if err != nil {
		return false
	}
	line, ok := lastNonBlankLine(text)
	if !ok {
		return false
	}
	return re.MatchString(line)
}

// StripDoneMarker removes the last matching done-marker line and any trailing
// blank lines.
func (g *genericAgent) StripDoneMarker(text, requestID string) string {
	re, err := g.doneRegexFor(requestID)
	if err != nil {
		return text
	}

	lines := strings.Split(text, "\n")
	foundMarker := false
	kept := make([]string, 0, len(lines))

	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if !foundMarker && strings.TrimSpace(line) == "" {
			continue
		}
		if !foundMarker && re.MatchString(strings.TrimRight(line, "\r")) {
			foundMarker = true
			continue
		}
		kept = append(kept, line)
	}

	// kept is reversed; put it back in order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n\r \t")
}

// lastNonBlankLine returns the last non-blank line of text without its
// trailing "\r", since PTY output ends lines with "\r\n".
func lastNonBlankLine(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimRight(lines[i], "\r"), true
		}
	}
	return "", false
}

// PromptTrailer renders the fixed instructional trailer for doneMarker, exposed
// for callers (tests, the claudecode adapter) that need it without the sentinel
// prefix.
func PromptTrailer(doneMarker string) string {
	return fmt.Sprintf(
		"\n\nIMPORTANT:\n- Reply normally, in English.\n- End your reply with this exact final line (verbatim, on its own line):\n%s\n",
		doneMarker,
	)
}
