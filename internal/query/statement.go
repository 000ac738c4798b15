package query

import "strings"

var readKeywords = map[string]bool{
	"select":  true,
	"with":    true,
	"explain": true,
	"show":    true,
	"values":  true,
	"table":   true,
}

// IsReadStatement reports whether the first keyword of sqlText, after comments
// and opening parentheses, starts a read. It is a keyword check, not a parser:
// a WITH clause wrapping a data-modifying statement still passes.
func IsReadStatement(sqlText string) bool {
	keyword := strings.ToLower(firstKeyword(sqlText))
	if !readKeywords[keyword] {
		return false
	}
	if keyword == "with" || keyword == "explain" {
		return !containsWriteKeyword(sqlText)
	}
	return true
}

// HasMultipleStatements reports whether a semicolon outside quotes or comments
// separates two statements.
func HasMultipleStatements(sqlText string) bool {
	sqlText = stripTrailingSemicolons(sqlText)
	found := false
	scanCode(sqlText, func(index int, ch byte) bool {
		if ch == ';' {
			found = true
			return false
		}
		return true
	})
	return found
}

func firstKeyword(sqlText string) string {
	start := -1
	end := len(sqlText)
	scanCode(sqlText, func(index int, ch byte) bool {
		isWord := ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
		switch {
		case start < 0 && isWord:
			start = index
		case start < 0 && (ch == '(' || ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'):
		case start < 0:
			end = index
			return false
		case !isWord:
			end = index
			return false
		}
		return true
	})
	if start < 0 || start >= end {
		return ""
	}
	return sqlText[start:end]
}

var writeKeywords = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"merge":    true,
	"drop":     true,
	"create":   true,
	"alter":    true,
	"truncate": true,
	"grant":    true,
	"revoke":   true,
	"copy":     true,
	"analyze":  true,
}

func containsWriteKeyword(sqlText string) bool {
	found := false
	var word strings.Builder
	flush := func() {
		if writeKeywords[strings.ToLower(word.String())] {
			found = true
		}
		word.Reset()
	}
	scanCode(sqlText, func(index int, ch byte) bool {
		if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			word.WriteByte(ch)
			return true
		}
		flush()
		return !found
	})
	flush()
	return found
}

// scanCode calls visit for every byte of sqlText that is not inside a string
// literal, a quoted identifier or a comment. Skipped regions are reported as a
// single space so word boundaries survive. visit returning false stops the scan.
func scanCode(sqlText string, visit func(index int, ch byte) bool) {
	for i := 0; i < len(sqlText); i++ {
		ch := sqlText[i]
		switch {
		case ch == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			start := i
			for i < len(sqlText) && sqlText[i] != '\n' {
				i++
			}
			if !visit(start, ' ') {
				return
			}
		case ch == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			start := i
			i += 2
			for i+1 < len(sqlText) && !(sqlText[i] == '*' && sqlText[i+1] == '/') {
				i++
			}
			i++
			if !visit(start, ' ') {
				return
			}
		case ch == '\'' || ch == '"':
			start := i
			quote := ch
			i++
			for i < len(sqlText) {
				if sqlText[i] == quote {
					if i+1 < len(sqlText) && sqlText[i+1] == quote {
						i += 2
						continue
					}
					break
				}
				i++
			}
			if !visit(start, ' ') {
				return
			}
		default:
			if !visit(i, ch) {
				return
			}
		}
	}
}
