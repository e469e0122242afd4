package analysis

import (
	"strings"

	"github.com/google/uuid"
)

func severityWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 8
	default:
		return 3
	}
}

// staticScores derives the security and quality scores for the static track.
// A clean run short-circuits to fixed ceilings rather than a perfect 100;
// absence of findings is not proof of absence of bugs.
func staticScores(findings []Finding, files map[string]string) (security, quality float64) {
	if len(findings) == 0 {
		return 95.0, 90.0
	}

	totalLines := 0
	asserts := 0
	hasDocs := false
	for _, content := range files {
		totalLines += lineCount(content)
		asserts += strings.Count(content, "assert!")
		if strings.Contains(content, "///") {
			hasDocs = true
		}
	}
	if totalLines < 1 {
		totalLines = 1
	}

	penalty := 0.0
	for _, f := range findings {
		if f.IsFalsePositive {
			continue
		}
		penalty += severityWeight(f.Severity) * f.Confidence / 100.0
	}

	// Density counts every finding, false positives included; a noisy file
	// is a noisy file.
	density := float64(len(findings)) / float64(totalLines)

	security = 100.0 - penalty - density*100.0
	security = clampScore(security)

	quality = 80.0
	if hasDocs {
		quality += 10.0
	}
	quality -= density * 50.0
	quality += float64(asserts) / float64(totalLines) * 20.0
	quality = clampScore(quality)

	return security, quality
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type recTemplate struct {
	category    Category
	title       string
	description string
	priority    Priority
	examples    []CodeExample
}

// recommendationTemplate maps a known vulnerability type to its remediation
// guidance. Free-form labels have none; their findings carry their own
// recommendation text.
func recommendationTemplate(t VulnType) (recTemplate, bool) {
	switch t {
	case VulnUnauthorizedAccess:
		return recTemplate{
			category:    CategoryAccessControl,
			title:       "Implement Proper Access Control",
			description: "Unauthorized access paths were detected. Use capability objects to authorize privileged operations instead of trusting the caller.",
			priority:    PriorityHigh,
			examples: []CodeExample{{
				Title:       "Add Capability Parameter",
				Before:      "public fun transfer(item: Item, recipient: address)",
				After:       "public fun transfer(cap: &AdminCap, item: Item, recipient: address)",
				Explanation: "Require capability object to authorize transfers",
			}},
		}, true
	case VulnReentrancyLike:
		return recTemplate{
			category:    CategoryAccessControl,
			title:       "Finalize State Before External Interaction",
			description: "State is read or written around external calls. Complete all local mutations before handing control to other modules.",
			priority:    PriorityHigh,
		}, true
	case VulnIntegerOverflow:
		return recTemplate{
			category:    CategoryErrorHandling,
			title:       "Guard Arithmetic Operations",
			description: "Arithmetic or casts may overflow or truncate. Assert operands fit before computing.",
			priority:    PriorityMedium,
			examples: []CodeExample{{
				Title:       "Check Before Casting",
				Before:      "let small = (value as u8);",
				After:       "assert!(value <= 255, EValueTooLarge);\nlet small = (value as u8);",
				Explanation: "Prove the value fits the narrower width before casting",
			}},
		}, true
	case VulnResourceExhaustion:
		return recTemplate{
			category:    CategoryGasOptimization,
			title:       "Bound Loops and Collections",
			description: "Unbounded iteration can exhaust gas and block state transitions. Cap loop counts and collection sizes.",
			priority:    PriorityMedium,
		}, true
	case VulnLogicError:
		return recTemplate{
			category:    CategoryErrorHandling,
			title:       "Use Named Error Constants",
			description: "Failure paths abort with opaque codes. Named constants make failures diagnosable on-chain and in tests.",
			priority:    PriorityMedium,
			examples: []CodeExample{{
				Title:       "Name Abort Codes",
				Before:      "abort 0",
				After:       "const EInvalidState: u64 = 1;\n// ...\nabort EInvalidState",
				Explanation: "Abort with a named constant instead of a bare literal",
			}},
		}, true
	case VulnTimestampDependence:
		return recTemplate{
			category:    CategoryCodeStructure,
			title:       "Reduce Clock Sensitivity",
			description: "Control flow depends on on-chain time. Validators influence timestamps, so keep tolerances wide and avoid exact comparisons.",
			priority:    PriorityMedium,
		}, true
	case VulnInsufficientValidation:
		return recTemplate{
			category:    CategoryInputValidation,
			title:       "Add Input Validation",
			description: "Inputs reach state changes without checks. Assert invariants at every public entry point.",
			priority:    PriorityMedium,
			examples: []CodeExample{{
				Title:       "Add Assertion Checks",
				Before:      "public fun set_price(price: u64)",
				After:       "public fun set_price(price: u64) {\n    assert!(price > 0, EInvalidPrice);",
				Explanation: "Validate inputs before processing",
			}},
		}, true
	case VulnAccessControl:
		return recTemplate{
			category:    CategoryAccessControl,
			title:       "Tighten Module Access",
			description: "Friend declarations and entry points widen the trust boundary. Keep the friend list minimal and gate entry functions on capabilities.",
			priority:    PriorityHigh,
		}, true
	default:
		return recTemplate{}, false
	}
}

// knownTypeOrder fixes emission order for grouped recommendations.
var knownTypeOrder = []VulnType{
	VulnUnauthorizedAccess,
	VulnReentrancyLike,
	VulnIntegerOverflow,
	VulnResourceExhaustion,
	VulnLogicError,
	VulnTimestampDependence,
	VulnInsufficientValidation,
	VulnAccessControl,
}

// staticRecommendations groups findings by type and emits one template per
// known type present, plus a testing nudge when the run is noisy.
func staticRecommendations(findings []Finding) []Recommendation {
	present := make(map[VulnType]bool)
	for _, f := range findings {
		if f.IsFalsePositive {
			continue
		}
		present[f.Type] = true
	}

	var out []Recommendation
	for _, t := range knownTypeOrder {
		if !present[t] {
			continue
		}
		tpl, ok := recommendationTemplate(t)
		if !ok {
			continue
		}
		out = append(out, Recommendation{
			ID:           uuid.New().String(),
			Category:     tpl.category,
			Title:        tpl.title,
			Description:  tpl.description,
			Priority:     tpl.priority,
			CodeExamples: tpl.examples,
		})
	}

	if len(findings) > 5 {
		out = append(out, Recommendation{
			ID:          uuid.New().String(),
			Category:    CategoryTesting,
			Title:       "Increase Test Coverage",
			Description: "High vulnerability count suggests need for more comprehensive testing",
			Priority:    PriorityHigh,
		})
	}

	return out
}
