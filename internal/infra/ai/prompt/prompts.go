package prompt

import (
	"fmt"
	"strings"

	"github.com/movesec/moveaudit/internal/domain/analysis"
)

// SystemPrompt pins the model into the reviewer role and forbids prose so
// responses stay machine-readable.
const SystemPrompt = `You are a senior Sui Move smart-contract security analyst. You must produce one valid JSON object only (no markdown, no commentary, no code fences). Follow the schema given in the user message exactly. Use lowercase enum values.`

// Vulnerability builds the detection prompt for one file.
func Vulnerability(code, filePath string) string {
	return fmt.Sprintf(`Analyze the following Sui Move module for security vulnerabilities.

File: %s

Code:
%s

Look for: missing capability checks on privileged operations, unauthorized object transfers, state finalized after external interaction, unchecked arithmetic and narrowing casts, unbounded loops or collections, logic errors, clock and epoch dependence, and missing input validation.

Respond with one JSON object:
{
  "vulnerabilities": [
    {
      "type": "<unauthorized_access|reentrancy_like|integer_overflow|resource_exhaustion|logic_error|timestamp_dependence|insufficient_validation>",
      "severity": "<critical|high|medium|low>",
      "line_number": 0,
      "code_snippet": "<string>",
      "description": "<string>",
      "recommendation": "<string>",
      "confidence": 0.0
    }
  ],
  "summary": "<string>",
  "overall_confidence": 0.0
}

Confidence values range from 0 to 100. Omit line_number when the issue is not tied to one line. Report only issues you are reasonably sure about.`, filePath, code)
}

// Recommendations builds the remediation prompt from detected findings.
func Recommendations(code string, findings []analysis.Finding) string {
	var lines []string
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", f.Type, f.Severity, f.Description))
	}

	return fmt.Sprintf(`The following vulnerabilities were detected in a Sui Move codebase:

%s

Code:
%s

Produce actionable remediation guidance grouped by concern. Respond with one JSON object:
{
  "recommendations": [
    {
      "category": "<access_control|input_validation|error_handling|gas_optimization|code_structure|testing>",
      "title": "<string>",
      "description": "<string>",
      "priority": "<critical|high|medium|low>",
      "code_examples": [
        {
          "title": "<string>",
          "before": "<string>",
          "after": "<string>",
          "explanation": "<string>"
        }
      ]
    }
  ]
}

Keep code examples in Move syntax and keep descriptions concise.`, strings.Join(lines, "\n"), code)
}

// Quality builds the code-quality scoring prompt for one file.
func Quality(code string) string {
	return fmt.Sprintf(`Rate the quality of the following Sui Move module. Consider organization, naming, documentation coverage, assertion usage, and adherence to Move best practices.

Code:
%s

Respond with one JSON object:
{
  "quality_score": 0.0,
  "explanation": "<string>"
}

quality_score ranges from 0 to 100.`, code)
}
