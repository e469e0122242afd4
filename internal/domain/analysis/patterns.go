package analysis

import (
	"strings"

	"github.com/google/uuid"
)

// PatternTableVersion identifies the signature set. Bump on any table change
// so stored results can be traced back to the rules that produced them.
const PatternTableVersion = "1.0.0"

// signature is one substring check applied line by line. Matches are
// case-sensitive; Move source is lowercase by convention so this is cheap
// and stable.
type signature struct {
	id             string
	match          string
	vulnType       VulnType
	severity       Severity
	confidence     float64
	description    string
	recommendation string
}

// signatureTable is fixed and ordered. Lines are visited top to bottom and
// signatures in table order, so the same input always yields the same
// findings in the same order.
var signatureTable = []signature{
	{
		id:             "MV001",
		match:          "transfer::public_transfer",
		vulnType:       VulnUnauthorizedAccess,
		severity:       SeverityHigh,
		confidence:     60,
		description:    "Object transferred without a capability guard",
		recommendation: "Gate transfers behind a capability parameter or an explicit sender assertion",
	},
	{
		id:             "MV002",
		match:          "share_object(",
		vulnType:       VulnUnauthorizedAccess,
		severity:       SeverityMedium,
		confidence:     55,
		description:    "Shared object exposes mutable state to arbitrary callers",
		recommendation: "Confirm the object must be shared; prefer owned objects or capability-gated access",
	},
	{
		id:             "MV003",
		match:          "public(friend) fun",
		vulnType:       VulnAccessControl,
		severity:       SeverityMedium,
		confidence:     50,
		description:    "Function visibility depends on the friend list",
		recommendation: "Keep the friend list minimal and audit every friend module",
	},
	{
		id:             "MV004",
		match:          "clock::timestamp_ms",
		vulnType:       VulnTimestampDependence,
		severity:       SeverityMedium,
		confidence:     65,
		description:    "Logic reads the on-chain clock",
		recommendation: "Avoid decision-making on exact timestamps; validators influence clock values",
	},
	{
		id:             "MV005",
		match:          "tx_context::epoch",
		vulnType:       VulnTimestampDependence,
		severity:       SeverityLow,
		confidence:     55,
		description:    "Logic depends on the current epoch",
		recommendation: "Treat epoch boundaries as coarse time only; do not derive entitlements from them",
	},
	{
		id:             "MV006",
		match:          "while (true)",
		vulnType:       VulnResourceExhaustion,
		severity:       SeverityMedium,
		confidence:     60,
		description:    "Unbounded loop may exhaust gas",
		recommendation: "Bound the loop with an explicit counter or restructure into batched calls",
	},
	{
		id:             "MV007",
		match:          "loop {",
		vulnType:       VulnResourceExhaustion,
		severity:       SeverityMedium,
		confidence:     60,
		description:    "Unbounded loop may exhaust gas",
		recommendation: "Bound the loop with an explicit counter or restructure into batched calls",
	},
	{
		id:             "MV008",
		match:          "vector::pop_back",
		vulnType:       VulnInsufficientValidation,
		severity:       SeverityLow,
		confidence:     45,
		description:    "Vector popped without an emptiness check on the same line",
		recommendation: "Assert !vector::is_empty before popping, or handle the empty case explicitly",
	},
	{
		id:             "MV009",
		match:          "option::destroy_some",
		vulnType:       VulnInsufficientValidation,
		severity:       SeverityMedium,
		confidence:     50,
		description:    "Option unwrapped without a visible is_some guard",
		recommendation: "Check option::is_some first or propagate the none case",
	},
	{
		id:             "MV010",
		match:          " as u8",
		vulnType:       VulnIntegerOverflow,
		severity:       SeverityMedium,
		confidence:     55,
		description:    "Narrowing cast may truncate",
		recommendation: "Assert the value fits the target width before casting",
	},
	{
		id:             "MV011",
		match:          "abort 0",
		vulnType:       VulnLogicError,
		severity:       SeverityLow,
		confidence:     40,
		description:    "Bare abort code carries no failure reason",
		recommendation: "Define named error constants and abort with them",
	},
}

// scanSignatures runs the signature table over one file.
func scanSignatures(filePath, content string) []Finding {
	var out []Finding
	for i, line := range strings.Split(content, "\n") {
		for _, sig := range signatureTable {
			if !strings.Contains(line, sig.match) {
				continue
			}
			out = append(out, Finding{
				ID:             uuid.New().String(),
				Type:           sig.vulnType,
				Severity:       sig.severity,
				Confidence:     sig.confidence,
				FilePath:       filePath,
				LineNumber:     i + 1,
				CodeSnippet:    strings.TrimSpace(line),
				Description:    sig.description,
				Recommendation: sig.recommendation,
			})
		}
	}
	return out
}
