package payroll

const (
	RunStatusDraft     = "DRAFT"
	RunStatusValidated = "VALIDATED"
	RunStatusCommitted = "COMMITTED"

	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"

	FindingMissingBank       = "missing_bank_account"
	FindingInvalidBank       = "invalid_bank_account"
	FindingNegativeNet       = "negative_net"
	FindingNonPositiveGross  = "non_positive_gross"
	FindingDuplicateEmployee = "duplicate_employee"
	FindingStaleLine         = "stale_line"
	FindingMissingTaxNumber  = "missing_tax_number"
	FindingInvalidTaxNumber  = "invalid_tax_number"
	FindingLowNet            = "low_net"
	FindingRebateTierChanged = "rebate_tier_changed"
	FindingDependentsChanged = "medical_dependents_changed"
)
