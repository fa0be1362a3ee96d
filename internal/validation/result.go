package validation

// Severity ranks a violation.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Violation is one rule failure reported by any phase.
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of a pipeline run. SchematronSkipped records that
// the semantic phase could not be evaluated; the document still counts as
// valid in that case, but observability needs the distinction.
type Result struct {
	Valid             bool        `json:"valid"`
	Errors            []Violation `json:"errors"`
	Warnings          []Violation `json:"warnings"`
	SchematronSkipped bool        `json:"schematron_skipped"`
}

// Messages flattens the error messages for user-facing status fields.
func (r *Result) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, v := range r.Errors {
		out = append(out, v.Message)
	}
	return out
}

// add folds a batch of violations into the result, sorting them by
// severity and clearing Valid on the first fatal one.
func (r *Result) add(violations []Violation) {
	for _, v := range violations {
		if v.Severity == SeverityWarning {
			r.Warnings = append(r.Warnings, v)
			continue
		}
		r.Errors = append(r.Errors, v)
		r.Valid = false
	}
}

func fatal(ruleID, message string) Violation {
	return Violation{RuleID: ruleID, Message: message, Severity: SeverityFatal}
}

func warning(ruleID, message string) Violation {
	return Violation{RuleID: ruleID, Message: message, Severity: SeverityWarning}
}
