package auth

import (
	"slices"
	"strings"
)

// Permissions.
const (
	PermAll               = "*"
	PermCustomersView     = "customers.view"
	PermCustomersManage   = "customers.manage"
	PermProductsManage    = "products.manage"
	PermRewardsManage     = "rewards.manage"
	PermRedemptionsView   = "redemptions.view"
	PermRedemptionsManage = "redemptions.manage"
	PermPointsAdjust      = "points.adjust"
	PermStaffManage       = "staff.manage"
	PermSettingsManage    = "settings.manage"
	PermMessagingSend     = "messaging.send"
	PermReportsView       = "reports.view"
	PermDataImport        = "data.import"
	PermDataExport        = "data.export"
)

// AllPermissions lists every grantable permission except the wildcard.
var AllPermissions = []string{
	PermCustomersView,
	PermCustomersManage,
	PermProductsManage,
	PermRewardsManage,
	PermRedemptionsView,
	PermRedemptionsManage,
	PermPointsAdjust,
	PermStaffManage,
	PermSettingsManage,
	PermMessagingSend,
	PermReportsView,
	PermDataImport,
	PermDataExport,
}

// ValidPermission reports whether p can be granted to a role.
func ValidPermission(p string) bool {
	return p == PermAll || slices.Contains(AllPermissions, p)
}

// Has reports whether granted covers perm. The wildcard covers everything
// and "x.manage" implies "x.view".
func Has(granted []string, perm string) bool {
	for _, g := range granted {
		if g == PermAll || g == perm {
			return true
		}
	}
	if base, ok := strings.CutSuffix(perm, ".view"); ok {
		return slices.Contains(granted, base+".manage")
	}
	return false
}
