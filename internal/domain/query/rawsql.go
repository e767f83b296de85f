package query

import (
	"strconv"
	"strings"
)

// forbiddenKeywords may not appear outside literals in a raw SELECT.
var forbiddenKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {}, "UPSERT": {},
	"DROP": {}, "CREATE": {}, "ALTER": {}, "TRUNCATE": {}, "RENAME": {},
	"GRANT": {}, "REVOKE": {}, "COMMENT": {}, "INTO": {},
	"COPY": {}, "CALL": {}, "EXECUTE": {}, "EXEC": {}, "DO": {}, "PREPARE": {},
	"ATTACH": {}, "DETACH": {}, "PRAGMA": {}, "VACUUM": {}, "REINDEX": {}, "ANALYZE": {},
	"LOCK": {}, "SET": {}, "RESET": {}, "LISTEN": {}, "NOTIFY": {}, "LOAD": {},
	"BEGIN": {}, "COMMIT": {}, "ROLLBACK": {}, "SAVEPOINT": {},
}

func rejectRaw(format string, args ...any) error {
	return buildErr(RawQueryRejected, format, args...)
}

// ValidateRawSelect is a conservative lexical check for admin raw queries.
// It is not a parser: it rejects anything it cannot classify with certainty.
// The statement must start with SELECT, may end with a single ';', and may
// not contain comments, dollar quoting, backslashes inside literals,
// unbalanced quotes or parentheses, or write and DDL keywords outside
// literals. Every $n placeholder and every ? must have a bound argument.
func ValidateRawSelect(sql string, argCount int) error {
	s := strings.TrimSpace(sql)
	if s == "" {
		return rejectRaw("empty statement")
	}

	var (
		first     string
		depth     int
		maxParam  int
		positions int
	)
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			end := i + 1
			for {
				if end >= len(s) {
					return rejectRaw("unterminated quote")
				}
				if s[end] == '\\' {
					return rejectRaw("backslash inside literal")
				}
				if s[end] == c {
					if end+1 < len(s) && s[end+1] == c {
						end += 2
						continue
					}
					break
				}
				end++
			}
			i = end + 1
		case c == '-' && i+1 < len(s) && s[i+1] == '-',
			c == '/' && i+1 < len(s) && s[i+1] == '*':
			return rejectRaw("comments are not allowed")
		case c == ';':
			if strings.TrimSpace(s[i+1:]) != "" {
				return rejectRaw("multiple statements are not allowed")
			}
			i++
		case c == '$':
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j == i+1 {
				return rejectRaw("dollar quoting is not allowed")
			}
			n, err := strconv.Atoi(s[i+1 : j])
			if err != nil || n == 0 {
				return rejectRaw("invalid placeholder %q", s[i:j])
			}
			maxParam = max(maxParam, n)
			i = j
		case c == '?':
			positions++
			i++
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			if depth < 0 {
				return rejectRaw("unbalanced parentheses")
			}
			i++
		case isWordStart(c):
			j := i + 1
			for j < len(s) && isWordPart(s[j]) {
				j++
			}
			word := strings.ToUpper(s[i:j])
			if first == "" {
				first = word
			}
			if _, bad := forbiddenKeywords[word]; bad {
				return rejectRaw("keyword %s is not allowed", word)
			}
			i = j
		default:
			i++
		}
	}
	if depth != 0 {
		return rejectRaw("unbalanced parentheses")
	}
	if first != "SELECT" || !strings.HasPrefix(strings.ToUpper(s), "SELECT") {
		return rejectRaw("only SELECT statements are allowed")
	}
	if maxParam > 0 && positions > 0 {
		return rejectRaw("mixed placeholder styles")
	}
	if maxParam > argCount || positions > argCount {
		return rejectRaw("statement references %d parameters but %d were given", max(maxParam, positions), argCount)
	}
	return nil
}

func isWordStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isWordPart(c byte) bool {
	return isWordStart(c) || c >= '0' && c <= '9' || c == '$'
}
