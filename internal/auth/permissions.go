package auth

const (
	RolePayrollAdmin  = "payroll_admin"
	RolePayrollViewer = "payroll_viewer"
	RoleSystemAdmin   = "system_admin"
)

const (
	PermPayrollRead   = "payroll.read"
	PermPayrollRun    = "payroll.run"
	PermPayrollCommit = "payroll.commit"
	PermReportsRead   = "reports.read"
	PermTaxTablesRead = "tax_tables.read"
	PermAuditRead     = "audit.read"
	PermSystemAdmin   = "admin.system"
)

var DefaultPermissions = []string{
	PermPayrollRead,
	PermPayrollRun,
	PermPayrollCommit,
	PermReportsRead,
	PermTaxTablesRead,
	PermAuditRead,
	PermSystemAdmin,
}

var RolePermissions = map[string][]string{
	RolePayrollViewer: {
		PermPayrollRead,
		PermReportsRead,
		PermTaxTablesRead,
	},
	RolePayrollAdmin: {
		PermPayrollRead,
		PermPayrollRun,
		PermPayrollCommit,
		PermReportsRead,
		PermTaxTablesRead,
		PermAuditRead,
	},
	RoleSystemAdmin: {
		PermSystemAdmin,
		PermTaxTablesRead,
		PermAuditRead,
	},
}

func HasPermission(role, perm string) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// CrossPractice reports whether a role may act outside its own practice.
func CrossPractice(role string) bool {
	return role == RoleSystemAdmin
}
