package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Role names the purpose an account serves in posting rules. Tenants map each
// role to one of their accounts.
type Role string

const (
	RoleCash                Role = "cash"
	RoleReceivable          Role = "receivable"
	RolePayable             Role = "payable"
	RoleFeedInventory       Role = "inventory.feed"
	RoleSupplyInventory     Role = "inventory.supply"
	RoleLivestockAsset      Role = "livestock.asset"
	RoleLivestockRevenue    Role = "revenue.livestock"
	RoleProductRevenue      Role = "revenue.product"
	RoleLivestockCOGS       Role = "cogs.livestock"
	RoleProductCOGS         Role = "cogs.product"
	RoleFeedExpense         Role = "expense.feed"
	RoleInventoryAdjustment Role = "expense.inventory_adjustment"
)

// Roles lists every role a complete chart maps.
var Roles = []Role{
	RoleCash, RoleReceivable, RolePayable,
	RoleFeedInventory, RoleSupplyInventory, RoleLivestockAsset,
	RoleLivestockRevenue, RoleProductRevenue,
	RoleLivestockCOGS, RoleProductCOGS,
	RoleFeedExpense, RoleInventoryAdjustment,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if known == r {
			return true
		}
	}
	return false
}

// Chart is a tenant's accounts plus its role mapping.
type Chart struct {
	TenantID string             `json:"tenant_id"`
	Accounts []Account          `json:"accounts"`
	Roles    map[Role]uuid.UUID `json:"roles"`
}

// ByID finds an account by id.
func (c Chart) ByID(id uuid.UUID) (Account, error) {
	for _, acct := range c.Accounts {
		if acct.ID == id {
			return acct, nil
		}
	}
	return Account{}, fmt.Errorf("%w: id %s", ErrAccountNotFound, id)
}

// ByCode finds an account by code.
func (c Chart) ByCode(code string) (Account, error) {
	for _, acct := range c.Accounts {
		if acct.Code == code {
			return acct, nil
		}
	}
	return Account{}, fmt.Errorf("%w: code %s", ErrAccountNotFound, code)
}

// Resolve returns the active account mapped to role.
func (c Chart) Resolve(role Role) (Account, error) {
	id, ok := c.Roles[role]
	if !ok {
		return Account{}, fmt.Errorf("%w: role %s not mapped for tenant %s", ErrAccountNotFound, role, c.TenantID)
	}
	acct, err := c.ByID(id)
	if err != nil {
		return Account{}, fmt.Errorf("role %s: %w", role, err)
	}
	if !acct.IsActive {
		return Account{}, fmt.Errorf("%w: %s (%s)", ErrInactiveAccount, acct.Code, role)
	}
	return acct, nil
}

type defaultAccount struct {
	code    string
	name    string
	typ     AccountType
	subtype string
	roles   []Role
}

var defaultAccounts = []defaultAccount{
	{"1000", "Cash on Hand", AccountTypeAsset, "cash", []Role{RoleCash}},
	{"1100", "Accounts Receivable", AccountTypeAsset, "receivable", []Role{RoleReceivable}},
	{"1200", "Feed Inventory", AccountTypeAsset, "inventory", []Role{RoleFeedInventory}},
	{"1210", "Supplies Inventory", AccountTypeAsset, "inventory", []Role{RoleSupplyInventory}},
	{"1300", "Livestock", AccountTypeAsset, "biological", []Role{RoleLivestockAsset}},
	{"2000", "Accounts Payable", AccountTypeLiability, "payable", []Role{RolePayable}},
	{"3000", "Owner's Equity", AccountTypeEquity, "capital", nil},
	{"4000", "Livestock Sales", AccountTypeIncome, "sales", []Role{RoleLivestockRevenue}},
	{"4100", "Product Sales", AccountTypeIncome, "sales", []Role{RoleProductRevenue}},
	{"5000", "Cost of Livestock Sold", AccountTypeCOGS, "", []Role{RoleLivestockCOGS}},
	{"5100", "Cost of Products Sold", AccountTypeCOGS, "", []Role{RoleProductCOGS}},
	{"6000", "Feed Expense", AccountTypeExpense, "operating", []Role{RoleFeedExpense}},
	{"6100", "Inventory Shrinkage and Adjustments", AccountTypeExpense, "operating", []Role{RoleInventoryAdjustment}},
	{"6200", "General Farm Expense", AccountTypeExpense, "operating", nil},
}

// DefaultChart builds the system chart seeded for a new tenant. Every role is
// mapped and every account is flagged as a system account.
func DefaultChart(tenantID string) Chart {
	chart := Chart{TenantID: tenantID, Roles: make(map[Role]uuid.UUID, len(Roles))}
	for _, def := range defaultAccounts {
		acct := NewAccount(tenantID, def.code, def.name, def.typ, def.subtype)
		acct.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("account:%s:%s", tenantID, def.code)))
		acct.IsSystem = true
		chart.Accounts = append(chart.Accounts, acct)
		for _, role := range def.roles {
			chart.Roles[role] = acct.ID
		}
	}
	return chart
}
