package brain

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

// Pattern sets are matched against the lowercased command. A pattern matches
// when it equals the command or is followed by whitespace or punctuation.
var (
	approvalPatterns = []string{
		"approve", "approved", "i approve", "yes", "y", "yep", "yeah", "lgtm",
		"looks good", "sounds good", "ship it", "go ahead", "go for it",
		"proceed", "do it", "create issues", "create the issues", "confirm", "ok", "okay",
	}
	cancellationPatterns = []string{
		"cancel", "stop", "abort", "reject", "no", "nope", "never mind",
		"nevermind", "discard", "drop it", "close plan",
	}
	refinementPatterns = []string{
		"refine", "revise", "update plan", "update the plan", "adjust", "modify",
		"change plan", "change the plan", "improve plan", "rework",
	}
	planningPatterns = []string{
		"plan", "planning", "create plan", "create a plan", "make a plan",
		"analyze", "analyse", "audit", "roadmap", "review repo", "review the repo",
	}
	multiRepoPatterns = []string{
		"multi-plan", "multiplan", "plan repos", "plan repositories", "analyze repos",
	}
	devPrefix = "dev"
)

// ruleTable is checked in order; the first set with a match wins.
var ruleTable = []struct {
	task     model.Task
	patterns []string
}{
	{model.TaskRefine, refinementPatterns},
	{model.TaskCancel, cancellationPatterns},
	{model.TaskApprove, approvalPatterns},
	{model.TaskPlan, planningPatterns},
}

var repoRefPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+(/[A-Za-z0-9_.\-]+)+$`)

// ParseCommand extracts the command addressed to bot from a comment. Comments
// that do not mention the bot produce an empty Command.
func ParseCommand(text, bot string) model.ParsedCommand {
	cmd := model.ParsedCommand{FullText: text}

	rest, ok := afterMention(text, bot)
	if !ok {
		return cmd
	}
	cmd.IsMention = true

	raw := strings.TrimSpace(rest)
	if tail, ok := cutKeyword(raw, devPrefix); ok {
		cmd.IsDevCommand = true
		raw = tail
	}

	for _, p := range multiRepoPatterns {
		tail, ok := cutKeyword(raw, p)
		if !ok {
			continue
		}
		if repos, query := splitRepoRefs(tail); len(repos) > 0 {
			cmd.IsMultiRepoCommand = true
			cmd.Repositories = repos
			cmd.UserQuery = query
		}
		break
	}

	cmd.Text = raw
	cmd.Command = normalize(raw)
	if !cmd.IsMultiRepoCommand {
		cmd.UserQuery = userQuery(raw)
	}
	return cmd
}

// MatchRules is Stage A. It returns TaskNone when no pattern set matches.
func MatchRules(cmd model.ParsedCommand) model.Task {
	if !cmd.IsMention || cmd.Command == "" {
		return model.TaskNone
	}
	if cmd.IsMultiRepoCommand {
		return model.TaskPlan
	}
	for _, rule := range ruleTable {
		for _, p := range rule.patterns {
			if _, ok := cutKeyword(cmd.Command, p); ok {
				return rule.task
			}
		}
	}
	return model.TaskNone
}

// afterMention returns the text following the first "@bot" token.
func afterMention(text, bot string) (string, bool) {
	if bot == "" {
		return "", false
	}
	token := "@" + strings.ToLower(strings.TrimPrefix(bot, "@"))
	lower := strings.ToLower(text)

	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], token)
		if i < 0 {
			return "", false
		}
		start := from + i
		end := start + len(token)
		before := start == 0 || !isNameByte(lower[start-1])
		after := end == len(lower) || !isNameByte(lower[end])
		if before && after {
			return text[end:], true
		}
		from = end
	}
	return "", false
}

// isNameByte reports bytes that may continue a username. Input is lowercased.
func isNameByte(b byte) bool {
	return b >= 0x80 || b == '-' || b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}

// cutKeyword reports whether s starts with keyword (case-insensitive) at a word
// boundary and returns the remainder.
func cutKeyword(s, keyword string) (string, bool) {
	if len(s) < len(keyword) || !strings.EqualFold(s[:len(keyword)], keyword) {
		return "", false
	}
	rest := s[len(keyword):]
	if rest == "" {
		return "", true
	}
	r := rune(rest[0])
	if unicode.IsSpace(r) || strings.ContainsRune(",:;.!?", r) {
		return strings.TrimLeft(rest, " \t\n\r,:;.!?-"), true
	}
	return "", false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

// userQuery is the free text after the leading keyword, original casing kept.
func userQuery(raw string) string {
	for _, rule := range ruleTable {
		for _, p := range rule.patterns {
			if tail, ok := cutKeyword(raw, p); ok {
				return strings.TrimSpace(tail)
			}
		}
	}
	return ""
}

// splitRepoRefs reads leading owner/repo tokens; the rest is the user query.
func splitRepoRefs(s string) ([]model.RepoRef, string) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == ',' })
	var repos []model.RepoRef
	seen := make(map[string]bool)
	i := 0
	for ; i < len(fields); i++ {
		if !repoRefPattern.MatchString(fields[i]) {
			break
		}
		ref, ok := model.ParseRepoRef(fields[i])
		if !ok {
			break
		}
		if key := strings.ToLower(ref.FullName()); !seen[key] {
			seen[key] = true
			repos = append(repos, ref)
		}
	}
	return repos, strings.Join(fields[i:], " ")
}
