package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

// ValidateAnalysisTypes checks that every requested type is a known track
func ValidateAnalysisTypes(types []string) error {
	allowed := map[string]bool{
		"static_analysis":         true,
		"vulnerability_detection": true,
		"llm_review":              true,
		"code_quality_assessment": true,
	}

	for _, t := range types {
		if !allowed[strings.ToLower(t)] {
			return fmt.Errorf("invalid analysis type: %s (allowed: static_analysis, vulnerability_detection, llm_review, code_quality_assessment)", t)
		}
	}
	return nil
}

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}

	// Allow alphanumeric, dash, underscore (max 64 chars)
	pattern := `^[a-zA-Z0-9_-]{1,64}$`
	matched, _ := regexp.MatchString(pattern, tenant)
	if !matched {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}

	return nil
}

// ValidateRepositoryID validates an owner/name repository identifier
func ValidateRepositoryID(id string) error {
	if id == "" {
		return fmt.Errorf("repository ID cannot be empty")
	}

	pattern := `^[A-Za-z0-9_.-]{1,100}(/[A-Za-z0-9_.-]{1,100})?$`
	matched, _ := regexp.MatchString(pattern, id)
	if !matched {
		return fmt.Errorf("invalid repository ID format")
	}

	return nil
}

// ValidateCommitSHA validates a commit SHA or ref name. Empty means the
// default branch and is accepted.
func ValidateCommitSHA(ref string) error {
	if ref == "" {
		return nil
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("invalid ref: %s", ref)
	}

	pattern := `^[A-Za-z0-9_./-]{1,255}$`
	matched, _ := regexp.MatchString(pattern, ref)
	if !matched {
		return fmt.Errorf("invalid commit SHA or ref format")
	}

	return nil
}

// ValidateAnalysisID validates analysis and finding identifiers (UUIDs)
func ValidateAnalysisID(id string) error {
	if id == "" {
		return fmt.Errorf("analysis ID cannot be empty")
	}

	pattern := `^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`
	matched, _ := regexp.MatchString(pattern, id)
	if !matched {
		return fmt.Errorf("invalid analysis ID format")
	}

	return nil
}

// ValidateFilePath validates repository-relative file paths
func ValidateFilePath(path string) error {
	if path == "" {
		return nil // Optional field
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal detected")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("absolute paths are not allowed")
	}

	// Block dangerous patterns
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(path, d) {
			return fmt.Errorf("invalid characters in path")
		}
	}

	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
