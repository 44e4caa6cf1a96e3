// Package sqlsafe screens SQL statements and parameters before they may
// touch a database. It admits single SELECT statements over an explicit
// table allow-list and rejects anything that looks mutating or injected.
package sqlsafe

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/voyagehq/crm-ai-go/internal/utils"
)

type denyRule struct {
	name    string
	pattern *regexp.Regexp
}

// Patterns run against the uppercased statement. Word boundaries keep
// column names like created_at from tripping the CREATE rule.
var denyRules = []denyRule{
	{"DROP statement", regexp.MustCompile(`\bDROP\b`)},
	{"DELETE statement", regexp.MustCompile(`\bDELETE\b`)},
	{"TRUNCATE statement", regexp.MustCompile(`\bTRUNCATE\b`)},
	{"ALTER statement", regexp.MustCompile(`\bALTER\b`)},
	{"CREATE statement", regexp.MustCompile(`\bCREATE\b`)},
	{"INSERT statement", regexp.MustCompile(`\bINSERT\b`)},
	{"UPDATE statement", regexp.MustCompile(`\bUPDATE\b`)},
	{"EXEC statement", regexp.MustCompile(`\bEXEC(?:UTE)?\b`)},
	{"UNION SELECT injection", regexp.MustCompile(`\bUNION\s+SELECT\b`)},
	{"line comment", regexp.MustCompile(`--`)},
	{"block comment", regexp.MustCompile(`/\*`)},
}

var allowedTables = map[string]bool{
	"leads":         true,
	"bookings":      true,
	"contacts":      true,
	"revenue_daily": true,
}

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// Validate screens one SQL statement. It returns an UnsafeQueryError when
// the statement is empty, is not a single SELECT, matches a deny rule, or
// references a table outside the allow-list.
func Validate(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return utils.NewUnsafeQueryError("empty statement")
	}

	normalized := stripTrailingSemicolon(trimmed)
	if hasSemicolonOutsideStrings(normalized) {
		return utils.NewUnsafeQueryError("multiple statements are not allowed")
	}

	upper := strings.ToUpper(normalized)
	if !strings.HasPrefix(upper, "SELECT") {
		return utils.NewUnsafeQueryError("statement must begin with SELECT")
	}

	for _, rule := range denyRules {
		if rule.pattern.MatchString(upper) {
			return utils.NewUnsafeQueryError("statement matches deny rule: " + rule.name)
		}
	}

	for _, match := range tableRefPattern.FindAllStringSubmatch(normalized, -1) {
		table := strings.ToLower(match[1])
		if !allowedTables[table] {
			return utils.NewUnsafeQueryError("table is not allow-listed: " + table)
		}
	}

	return nil
}

// ScreenParams checks string parameters for injection patterns with
// libinjection. Non-string values cannot carry SQL and pass untouched.
func ScreenParams(params []any) error {
	for i, param := range params {
		value, ok := param.(string)
		if !ok {
			continue
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
			return utils.NewUnsafeQueryError(
				fmt.Sprintf("parameter %d matches injection fingerprint %s", i+1, string(fingerprint)))
		}
	}
	return nil
}

func stripTrailingSemicolon(sql string) string {
	sql = strings.TrimRight(sql, " \t\n\r")
	if strings.HasSuffix(sql, ";") {
		sql = strings.TrimRight(strings.TrimSuffix(sql, ";"), " \t\n\r")
	}
	return sql
}

// hasSemicolonOutsideStrings walks the statement with a small quote-state
// machine. Both backslash and doubled-quote escapes keep us inside a
// literal.
func hasSemicolonOutsideStrings(sql string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prev := rune(0)

	for _, char := range sql {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = char
	}

	return false
}
