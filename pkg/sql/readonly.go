// Package sql provides statement classification and injection screening for
// queries headed to external datasources. The engine never writes, so
// anything that could mutate is rejected here, before any network call.
package sql

import (
	"regexp"
	"strings"
)

// StatementType represents the type of SQL statement.
type StatementType string

const (
	TypeSelect  StatementType = "SELECT"
	TypeInsert  StatementType = "INSERT"
	TypeUpdate  StatementType = "UPDATE"
	TypeDelete  StatementType = "DELETE"
	TypeCall    StatementType = "CALL"
	TypeDDL     StatementType = "DDL"     // CREATE, ALTER, DROP, TRUNCATE
	TypeUnknown StatementType = "UNKNOWN" // Unrecognized or blocked statement types
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE)\b`)

// DetectStatementType determines the type of SQL statement based on the first keyword.
// Returns TypeDDL for DDL statements (CREATE, ALTER, DROP, TRUNCATE).
// Returns TypeUnknown for unrecognized statements or data-modifying CTEs.
func DetectStatementType(sql string) StatementType {
	normalized := strings.ToUpper(strings.TrimSpace(sql))

	switch {
	case strings.HasPrefix(normalized, "SELECT"):
		return TypeSelect

	case strings.HasPrefix(normalized, "WITH"):
		// CTEs starting with WITH could be:
		// 1. Pure SELECT: WITH cte AS (SELECT ...) SELECT * FROM cte
		// 2. Data-modifying CTE: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
		if modifyingCTEPattern.MatchString(sql) {
			return TypeUnknown
		}
		return TypeSelect

	case strings.HasPrefix(normalized, "INSERT"):
		return TypeInsert

	case strings.HasPrefix(normalized, "UPDATE"):
		return TypeUpdate

	case strings.HasPrefix(normalized, "DELETE"):
		return TypeDelete

	case strings.HasPrefix(normalized, "CALL"):
		return TypeCall

	case strings.HasPrefix(normalized, "CREATE"),
		strings.HasPrefix(normalized, "ALTER"),
		strings.HasPrefix(normalized, "DROP"),
		strings.HasPrefix(normalized, "TRUNCATE"):
		return TypeDDL

	// Transaction control is blocked - the engine holds no transactions open
	case strings.HasPrefix(normalized, "BEGIN"),
		strings.HasPrefix(normalized, "COMMIT"),
		strings.HasPrefix(normalized, "ROLLBACK"),
		strings.HasPrefix(normalized, "SAVEPOINT"):
		return TypeUnknown

	default:
		return TypeUnknown
	}
}

// TypeError reports a statement that failed read-only validation.
type TypeError struct {
	Type    StatementType
	Message string
}

func (e *TypeError) Error() string {
	return e.Message
}

// ValidateReadOnly ensures a statement cannot mutate the source.
// Only SELECT (including pure-SELECT CTEs) passes.
func ValidateReadOnly(sql string) (StatementType, error) {
	sqlType := DetectStatementType(sql)

	switch sqlType {
	case TypeSelect:
		return sqlType, nil
	case TypeDDL:
		return sqlType, &TypeError{
			Type:    sqlType,
			Message: "DDL statements (CREATE, ALTER, DROP, TRUNCATE) are not allowed",
		}
	case TypeInsert, TypeUpdate, TypeDelete, TypeCall:
		return sqlType, &TypeError{
			Type:    sqlType,
			Message: string(sqlType) + " statements are not allowed: this engine is read-only",
		}
	default:
		return sqlType, &TypeError{
			Type:    sqlType,
			Message: "statement type not recognized as a read-only query",
		}
	}
}
