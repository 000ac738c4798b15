package agent

import (
	"fmt"
	"regexp"
	"strings"
)

const QueryToolName = "query_sql"

// Action and final answer markers are found anywhere in the completion,
// ignoring case and any markdown emphasis the model wraps them in. Section
// ends inside an answer or a SQL payload are only recognised at line start.
var (
	finalAnswerMarker = regexp.MustCompile(`(?i)[*#>]*\bfinal[ \t]+answer[ \t*_]*:[*_]*`)
	actionMarker      = regexp.MustCompile(`(?i)[*#>]*\baction[ \t*_]*:[*_]*`)
	actionInputMarker = regexp.MustCompile(`(?i)[*#>]*\baction[ \t]+input[ \t*_]*:[*_]*`)
	sectionMarker     = regexp.MustCompile(`(?im)^[ \t*#>_]*(thought|action|action[ \t]+input|observation|final[ \t]+answer)[ \t*_]*:`)
	answerEndMarker   = regexp.MustCompile(`(?im)^[ \t*#>_]*(thought|action|action[ \t]+input|observation)[ \t*_]*:`)
	thoughtPrefix     = regexp.MustCompile(`(?i)^[ \t*#>_]*thought[ \t*_]*:[*_]*`)
)

// Parsed is a completion split into the model's reasoning and its decision.
type Parsed struct {
	Thought string
	Action  Action
}

func Parse(completion string) Action {
	return ParseCompletion(completion).Action
}

// ParseCompletion classifies a completion. When both a final answer and an
// action appear, the marker that comes first in the text wins.
func ParseCompletion(completion string) Parsed {
	if strings.TrimSpace(completion) == "" {
		return Parsed{Action: Malformed{Raw: completion, Reason: "empty completion"}}
	}

	finalLoc := finalAnswerMarker.FindStringIndex(completion)
	actionLoc := actionMarker.FindStringIndex(completion)

	switch {
	case finalLoc == nil && actionLoc == nil:
		return Parsed{Action: Malformed{
			Raw:    completion,
			Reason: "no 'Action:' or 'Final Answer:' marker found",
		}}
	case finalLoc != nil && (actionLoc == nil || finalLoc[0] < actionLoc[0]):
		return Parsed{
			Thought: thoughtBefore(completion, finalLoc[0]),
			Action:  parseFinalAnswer(completion, finalLoc[1]),
		}
	default:
		return Parsed{
			Thought: thoughtBefore(completion, actionLoc[0]),
			Action:  parseRunQuery(completion, actionLoc[1]),
		}
	}
}

func parseFinalAnswer(completion string, start int) Action {
	text := completion[start:]
	if loc := answerEndMarker.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Malformed{Raw: completion, Reason: "'Final Answer:' is empty"}
	}
	return FinalAnswer{Text: text}
}

func parseRunQuery(completion string, start int) Action {
	rest := completion[start:]
	inputLoc := actionInputMarker.FindStringIndex(rest)
	nameEnd := strings.IndexByte(rest, '\n')
	if nameEnd < 0 {
		nameEnd = len(rest)
	}
	if inputLoc != nil && inputLoc[0] < nameEnd {
		nameEnd = inputLoc[0]
	}
	toolName := strings.Trim(strings.TrimSpace(rest[:nameEnd]), "*_`'\" ")
	if !strings.EqualFold(toolName, QueryToolName) {
		if toolName == "" {
			return Malformed{Raw: completion, Reason: "'Action:' does not name a tool"}
		}
		return Malformed{Raw: completion, Reason: fmt.Sprintf("%s is not a valid tool, try %s", toolName, QueryToolName)}
	}

	if inputLoc == nil {
		return Malformed{Raw: completion, Reason: "missing 'Action Input:' after 'Action:'"}
	}
	input := rest[inputLoc[1]:]
	if loc := sectionMarker.FindStringIndex(input); loc != nil {
		input = input[:loc[0]]
	}
	sqlText := unwrapSQL(input)
	if sqlText == "" {
		return Malformed{Raw: completion, Reason: "'Action Input:' is empty"}
	}
	return RunQuery{SQL: sqlText}
}

func thoughtBefore(completion string, end int) string {
	thought := strings.TrimSpace(completion[:end])
	if loc := thoughtPrefix.FindStringIndex(thought); loc != nil {
		thought = strings.TrimSpace(thought[loc[1]:])
	}
	return thought
}

func unwrapSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && isFenceLanguage(trimmed[:newline]) {
			trimmed = trimmed[newline+1:]
		}
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	for _, quote := range []string{`"`, "`"} {
		if len(trimmed) >= 2 && strings.HasPrefix(trimmed, quote) && strings.HasSuffix(trimmed, quote) {
			trimmed = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		}
	}
	return trimmed
}

var fenceLanguage = regexp.MustCompile(`^[A-Za-z0-9_+-]*$`)

func isFenceLanguage(value string) bool {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "select", "with", "explain", "show", "values", "table":
		return false
	}
	return fenceLanguage.MatchString(value)
}
