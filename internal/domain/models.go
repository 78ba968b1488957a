package domain

import "time"

const (
	AllBranchesID   = "all"
	AllBranchesCode = "ALL"

	BranchStatusActive   = "active"
	BranchStatusInactive = "inactive"
)

type Branch struct {
	ID        string    `json:"id"`
	Code      string    `json:"code" validate:"required,max=32"`
	Name      string    `json:"name" validate:"required,max=120"`
	IsCentral bool      `json:"isCentral"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Manager   string    `json:"manager,omitempty"`
	Status    string    `json:"status" validate:"omitempty,oneof=active inactive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllBranches is the pseudo-branch used to disable branch scoping. It is
// never persisted.
func AllBranches() Branch {
	return Branch{ID: AllBranchesID, Code: AllBranchesCode, Name: "All Branches", Status: BranchStatusActive}
}

// StartOfDay is midnight UTC of t's UTC date. Dashboard days, cache keys
// and report ranges all use it.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func (b Branch) IsAll() bool {
	return b.ID == AllBranchesID
}

type BranchInput struct {
	Code      string `json:"code,omitempty"`
	Name      string `json:"name" validate:"required,max=120"`
	IsCentral bool   `json:"isCentral,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Manager   string `json:"manager,omitempty"`
	Status    string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

type BranchPatch struct {
	Name      *string `json:"name,omitempty"`
	IsCentral *bool   `json:"isCentral,omitempty"`
	Address   *string `json:"address,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Manager   *string `json:"manager,omitempty"`
	Status    *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// BranchScope is an immutable snapshot of the active branch selection,
// passed to every branch-aware read or write.
type BranchScope struct {
	Branch  Branch
	Central Branch
}

func (s BranchScope) All() bool {
	return s.Branch.IsAll()
}

func (s BranchScope) IsCentral() bool {
	return !s.All() && s.Branch.ID != "" && s.Branch.ID == s.Central.ID
}

// Tag is the branch identity stamped on every record written in this scope.
func (s BranchScope) Tag() BranchTag {
	if s.All() || s.Branch.ID == "" {
		return BranchTag{BranchID: s.Central.ID, BranchCode: s.Central.Code, BranchName: s.Central.Name}
	}
	return BranchTag{BranchID: s.Branch.ID, BranchCode: s.Branch.Code, BranchName: s.Branch.Name}
}

type BranchTag struct {
	BranchID   string `json:"branchId"`
	BranchCode string `json:"branchCode,omitempty"`
	BranchName string `json:"branchName,omitempty"`
}

type InventoryItem struct {
	ID             string     `json:"id"`
	Name           string     `json:"name" validate:"required,max=200"`
	SKU            string     `json:"sku" validate:"max=64"`
	Category       string     `json:"category,omitempty"`
	Price          float64    `json:"price" validate:"gte=0"`
	Cost           float64    `json:"cost" validate:"gte=0"`
	Quantity       int        `json:"quantity" validate:"gte=0"`
	ReorderLevel   int        `json:"reorderLevel" validate:"gte=0"`
	Supplier       string     `json:"supplier,omitempty"`
	ExpiryDate     *time.Time `json:"expiryDate,omitempty"`
	DateAdded      time.Time  `json:"dateAdded"`
	SalesLastMonth int        `json:"salesLastMonth"`
	Version        int64      `json:"version"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	SaleTypePOS = "pos"
	SaleTypeB2B = "b2b"

	AdjustPercent = "percent"
	AdjustFixed   = "fixed"

	SaleStatusPending             = "pending"
	SaleStatusCompleted           = "completed"
	SaleStatusNeedsReconciliation = "needs-reconciliation"

	SettlementPending = "pending"
	SettlementSettled = "settled"
	SettlementFailed  = "failed"
)

type LineItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name" validate:"required"`
	SKU      string  `json:"sku,omitempty"`
	Price    float64 `json:"price" validate:"gte=0"`
	Cost     float64 `json:"cost,omitempty"`
	Quantity int     `json:"quantity" validate:"gte=1"`
	Total    float64 `json:"total"`
	Manual   bool    `json:"manual,omitempty"`
}

type Sale struct {
	ID             string     `json:"id"`
	SaleNumber     string     `json:"saleNumber,omitempty"`
	Type           string     `json:"type" validate:"required,oneof=pos b2b"`
	Items          []LineItem `json:"items" validate:"required,min=1,dive"`
	Subtotal       float64    `json:"subtotal"`
	Discount       float64    `json:"discount"`
	DiscountType   string     `json:"discountType" validate:"omitempty,oneof=percent fixed"`
	DiscountAmount float64    `json:"discountAmount"`
	Tax            float64    `json:"tax"`
	TaxType        string     `json:"taxType,omitempty" validate:"omitempty,oneof=percent fixed"`
	TaxAmount      float64    `json:"taxAmount"`
	Total          float64    `json:"total"`
	Profit         float64    `json:"profit"`
	PaymentMethod  string     `json:"paymentMethod"`
	CreditTerm     string     `json:"creditTerm,omitempty" validate:"omitempty,oneof=immediate net30 net60 net90"`
	CustomerID     string     `json:"customerId,omitempty"`
	CustomerName   string     `json:"customerName,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	Status         string     `json:"status" validate:"required,oneof=pending completed needs-reconciliation"`
	Settlement     string     `json:"settlement,omitempty"`
	FailedLines    []string   `json:"failedLines,omitempty"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status,omitempty"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Expense struct {
	ID          string    `json:"id"`
	Description string    `json:"description" validate:"required"`
	Category    string    `json:"category,omitempty"`
	Amount      float64   `json:"amount" validate:"gte=0"`
	Date        time.Time `json:"date"`
	Status      string    `json:"status,omitempty" validate:"omitempty,oneof=pending approved rejected"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderLine struct {
	ItemID    string  `json:"itemId,omitempty"`
	Name      string  `json:"name" validate:"required"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
	Quantity  int     `json:"quantity" validate:"gte=1"`
	Total     float64 `json:"total"`
}

type Order struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"orderNumber,omitempty"`
	SupplierID    string      `json:"supplierId,omitempty"`
	SupplierName  string      `json:"supplierName,omitempty"`
	Items         []OrderLine `json:"items" validate:"dive"`
	TotalAmount   float64     `json:"totalAmount"`
	Status        string      `json:"status,omitempty" validate:"omitempty,oneof=pending processing shipped delivered cancelled"`
	PaymentStatus string      `json:"paymentStatus,omitempty" validate:"omitempty,oneof=pending partial paid"`
	ExpectedDate  *time.Time  `json:"expectedDate,omitempty"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Supplier struct {
	ID            string `json:"id"`
	Name          string `json:"name" validate:"required,max=200"`
	ContactPerson string `json:"contactPerson,omitempty"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address,omitempty"`
	Status        string `json:"status,omitempty"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type HeldSale struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Items        []LineItem `json:"items"`
	Discount     float64    `json:"discount"`
	DiscountType string     `json:"discountType,omitempty"`
	Tax          float64    `json:"tax"`
	TaxType      string     `json:"taxType,omitempty"`
	CustomerID   string     `json:"customerId,omitempty"`
	CreditTerm   string     `json:"creditTerm,omitempty"`
	Note         string     `json:"note,omitempty"`
	HeldAt       time.Time  `json:"heldAt"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Quote struct {
	ID           string     `json:"id"`
	CustomerID   string     `json:"customerId" validate:"required"`
	CustomerName string     `json:"customerName,omitempty"`
	Items        []LineItem `json:"items" validate:"required,min=1"`
	Subtotal     float64    `json:"subtotal"`
	Discount     float64    `json:"discount"`
	DiscountType string     `json:"discountType,omitempty"`
	Total        float64    `json:"total"`
	CreditTerm   string     `json:"creditTerm,omitempty"`
	ValidUntil   time.Time  `json:"validUntil"`
	Status       string     `json:"status"`
	BranchTag
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name" validate:"required"`
	Email        string    `json:"email" validate:"required,email"`
	Role         string    `json:"role" validate:"required"`
	Status       string    `json:"status,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	BranchID     string    `json:"branchId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type UserInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	BranchID string `json:"branchId,omitempty"`
}

type DashboardStats struct {
	TotalRevenue   float64 `json:"totalRevenue"`
	TotalExpenses  float64 `json:"totalExpenses"`
	NetProfit      float64 `json:"netProfit"`
	GrossProfit    float64 `json:"grossProfit"`
	TotalCustomers int     `json:"totalCustomers"`
	InventoryValue float64 `json:"inventoryValue"`
	PendingOrders  int     `json:"pendingOrders"`
	ActiveBranches int     `json:"activeBranches"`
	OutOfStock     int     `json:"outOfStock"`
	LowStock       int     `json:"lowStock"`
	SalesCount     int     `json:"salesCount"`
	Degraded       bool    `json:"degraded,omitempty"`
	Error          string  `json:"error,omitempty"`
}

type ReorderSuggestion struct {
	ItemID        string  `json:"itemId"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku,omitempty"`
	Quantity      int     `json:"quantity"`
	ReorderLevel  int     `json:"reorderLevel"`
	DailyVelocity float64 `json:"dailyVelocity"`
	DaysOfCover   float64 `json:"daysOfCover"`
	SuggestedQty  int     `json:"suggestedQty"`
	Reason        string  `json:"reason"`
}

type ReconciliationReport struct {
	NegativeStock  []InventoryItem `json:"negativeStock"`
	UnsettledSales []Sale          `json:"unsettledSales"`
	CheckedAt      time.Time       `json:"checkedAt"`
}

func (r ReconciliationReport) Clean() bool {
	return len(r.NegativeStock) == 0 && len(r.UnsettledSales) == 0
}
