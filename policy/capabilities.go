package policy

import (
	"log/slog"

	"github.com/totegamma/agrichain/internal/domain"
)

var requesterRole = Expr{Operator: "Load", Args: []Expr{{Const: "requester.role"}}}

func roleIn(roles ...domain.Role) Expr {
	if len(roles) == 1 {
		return Expr{Operator: "Eq", Args: []Expr{requesterRole, {Const: string(roles[0])}}}
	}
	args := []Expr{requesterRole}
	for _, r := range roles {
		args = append(args, Expr{Const: string(r)})
	}
	return Expr{Operator: "In", Args: args}
}

func allow(roles ...domain.Role) []Stmt {
	return []Stmt{{Emit: "allow", Condition: roleIn(roles...)}}
}

func allowExcept(roles ...domain.Role) []Stmt {
	return []Stmt{{Emit: "allow", Condition: Expr{Operator: "Not", Args: []Expr{roleIn(roles...)}}}}
}

// Roles is the built-in capability table. Anything not listed is denied.
var Roles = Document{
	Name:        "agrichain-roles",
	Description: "capabilities granted to each account role",
	Versions: map[string]Policy{
		currentVersion: {
			Statements: map[string][]Stmt{
				string(domain.CapListAllProducts):     allow(domain.RoleAdmin),
				string(domain.CapRegisterProduct):     allow(domain.RoleFarmer, domain.RoleAdmin),
				string(domain.CapListAllCertificates): allow(domain.RoleAdmin),
				string(domain.CapListOwnCertificates): allow(domain.RoleRegulator),
				string(domain.CapIssueCertificate):    allow(domain.RoleRegulator, domain.RoleAdmin),
				string(domain.CapManageUsers):         allow(domain.RoleAdmin),
				string(domain.CapRecordStep):          allowExcept(domain.RoleRegulator),
			},
			Defaults: map[string]bool{},
		},
	},
}

// Allowed checks a capability for a role against the Roles table.
func Allowed(role domain.Role, capability domain.Capability) bool {
	if !role.Valid() {
		return false
	}

	ctx := RequestContext{
		Requester: map[string]any{"role": string(role)},
	}

	conclusion, err := EvaluatePolicy(Roles, ctx, string(capability))
	if err != nil {
		slog.Error("failed to evaluate policy", "capability", capability, "err", err)
		return false
	}

	return Summarize(conclusion, Roles.Versions[currentVersion].Defaults[string(capability)])
}
