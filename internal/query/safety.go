package query

import (
	"fmt"
	"strings"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
)

// SafetyChecker is the keyword denylist applied before any statement reaches the SQL backend
type SafetyChecker struct {
	RequiredPrefix    string
	ForbiddenKeywords []string
	MaxQueryLength    int
}

// NewSafetyChecker creates a checker with the default read-only policy
func NewSafetyChecker() *SafetyChecker {
	return &SafetyChecker{
		RequiredPrefix: "select",
		ForbiddenKeywords: []string{
			"drop",
			"delete",
			"insert",
			"update",
			"create",
			"alter",
			"truncate",
		},
		MaxQueryLength: 4000,
	}
}

// ValidateQuery rejects a full statement that does not start with SELECT or
// contains a forbidden keyword anywhere, even inside identifiers or literals.
func (sc *SafetyChecker) ValidateQuery(sql string) error {
	normalized := strings.ToLower(strings.TrimSpace(sql))

	if normalized == "" {
		return apperrors.NewDisallowedQueryError("Query is empty")
	}
	if sc.MaxQueryLength > 0 && len(normalized) > sc.MaxQueryLength {
		return apperrors.NewDisallowedQueryError(
			fmt.Sprintf("Query is %d characters long; the limit is %d", len(normalized), sc.MaxQueryLength))
	}
	if !strings.HasPrefix(normalized, sc.RequiredPrefix) {
		return apperrors.NewDisallowedQueryError("Only SELECT queries are allowed")
	}
	for _, keyword := range sc.ForbiddenKeywords {
		if strings.Contains(normalized, keyword) {
			return apperrors.NewDisallowedQueryError("Query contains prohibited operations").
				WithMetadata("keyword", keyword)
		}
	}
	return nil
}

// ValidateClause rejects a clause fragment that could end the statement or comment out the rest
func (sc *SafetyChecker) ValidateClause(name, clause string) error {
	for _, token := range []string{";", "--", "/*"} {
		if strings.Contains(clause, token) {
			return apperrors.NewDisallowedQueryError(
				fmt.Sprintf("The %s clause contains '%s'", name, token)).
				WithMetadata("clause", name)
		}
	}
	return nil
}
