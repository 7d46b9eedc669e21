package review

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds review session configuration.
type Config struct {
	MaxAttempts  int
	AllowedTools []string
}

// DefaultConfig returns the review config, reading overrides from viper.
func DefaultConfig() Config {
	maxAttempts := viper.GetInt("review.max_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	allowedTools := viper.GetString("review.allowed_tools")
	if allowedTools == "" {
		allowedTools = "Read Write Edit Glob Grep Bash(git:*) Bash(make:*) Bash(go:*) mcp__orc__*"
	}

	var tools []string
	for _, t := range strings.Split(allowedTools, " ") {
		t = strings.TrimSpace(t)
		if t != "" {
			tools = append(tools, t)
		}
	}

	return Config{
		MaxAttempts:  maxAttempts,
		AllowedTools: tools,
	}
}

// Target describes what a review session is reviewing.
type Target struct {
	EpicID     string
	StoryID    string
	Title      string
	Summary    string
	ProjectID  string
	BranchName string
}

// BuildPrompt generates the prompt a ticket-review session runs with.
func BuildPrompt(target Target, cfg Config) string {
	var b strings.Builder

	b.WriteString("You are an autonomous code review agent. Review the implementation on this branch, fix problems, run tests, and finish with a clear verdict.\n\n")

	b.WriteString("## Context\n")
	if target.EpicID != "" {
		fmt.Fprintf(&b, "- Epic: %s\n", shortID(target.EpicID))
	}
	if target.StoryID != "" {
		fmt.Fprintf(&b, "- Story: %s\n", shortID(target.StoryID))
	}
	if target.Title != "" {
		fmt.Fprintf(&b, "- Title: %s\n", target.Title)
	}
	if target.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", target.Summary)
	}
	if target.BranchName != "" {
		fmt.Fprintf(&b, "- Branch: %s\n", target.BranchName)
	}
	b.WriteString("\n")

	b.WriteString("## Process\n\n")
	fmt.Fprintf(&b, "You have up to %d attempts to get this review to pass.\n\n", cfg.MaxAttempts)
	b.WriteString("1. Read the diff against the base branch and check it against the requirements above.\n")
	b.WriteString("2. Run the test suite and verify everything passes.\n")
	b.WriteString("3. Fix problems directly where you can: edit code, add missing tests, commit fixes, re-run tests.\n")
	b.WriteString("4. Finish with a verdict on its own line: \"verdict: pass\" or \"verdict: fail\", followed by a short summary and, when failing, the reasons.\n\n")

	b.WriteString("## Rules\n\n")
	b.WriteString("- Fix issues yourself rather than just reporting them when possible\n")
	b.WriteString("- If you change code, always re-run tests before your verdict\n")
	b.WriteString("- Focus on correctness, not style nitpicks\n")
	b.WriteString("- Always end with a verdict line, even if you run out of attempts\n")

	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
