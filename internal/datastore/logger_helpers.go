package datastore

import (
	"regexp"
	"strings"
)

// sqlUnknown is used when SQL operation or table cannot be determined.
const sqlUnknown = "unknown"

// sqlPatterns map a statement to its operation label; the first group is the table
var sqlPatterns = []struct {
	operation string
	pattern   *regexp.Regexp
}{
	{"select", regexp.MustCompile(`(?i)^\s*SELECT\s+.*?\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)},
	{"insert", regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+['"\x60]?(\w+)['"\x60]?`)},
	{"update", regexp.MustCompile(`(?i)^\s*UPDATE\s+['"\x60]?(\w+)['"\x60]?`)},
	{"delete", regexp.MustCompile(`(?i)^\s*DELETE\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)},
	{"create", regexp.MustCompile(`(?i)^\s*CREATE\s+(?:UNIQUE\s+)?(?:TABLE|INDEX)\s+(?:IF\s+NOT\s+EXISTS\s+)?['"\x60]?(\w+)['"\x60]?`)},
}

// parseSQLOperation extracts the operation type and table name from a statement
func parseSQLOperation(sql string) (operation, table string) {
	sql = strings.TrimSpace(sql)
	for _, p := range sqlPatterns {
		if m := p.pattern.FindStringSubmatch(sql); len(m) > 1 {
			return p.operation, m[1]
		}
	}
	return sqlUnknown, sqlUnknown
}

// categorizeError maps SQLite errors to a metrics label
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return "constraint_violation"
	case strings.Contains(msg, "not null"):
		return "null_violation"
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "busy"):
		return "database_locked"
	case strings.Contains(msg, "no such table"):
		return "missing_table"
	case strings.Contains(msg, "syntax"):
		return "syntax_error"
	case strings.Contains(msg, "readonly"), strings.Contains(msg, "permission denied"):
		return "permission_denied"
	case strings.Contains(msg, "disk"), strings.Contains(msg, "no space"):
		return "disk_full"
	default:
		return "other"
	}
}
