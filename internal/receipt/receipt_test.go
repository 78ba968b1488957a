package receipt

import (
	"strings"
	"testing"
	"time"

	"vendify/internal/domain"
)

func sampleSale() domain.Sale {
	return domain.Sale{
		ID:         "sale-1",
		SaleNumber: "MAIN-20240301-0001",
		Type:       domain.SaleTypePOS,
		Items: []domain.LineItem{
			{ID: "widget", Name: "Widget", Price: 100, Quantity: 3, Total: 300},
		},
		Subtotal:       300,
		DiscountAmount: 30,
		TaxAmount:      13.5,
		Total:          283.5,
		BranchTag:      domain.BranchTag{BranchID: "b-main", BranchCode: "MAIN", BranchName: "Main"},
		CreatedAt:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret", "")

	r, err := issuer.Issue(sampleSale())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if r.Kind != "receipt" || !strings.Contains(r.PreviewText, "Total    : 283.50") {
		t.Fatalf("unexpected receipt:\n%s", r.PreviewText)
	}
	if r.FileName != "receipt-MAIN-20240301-0001.bin" {
		t.Fatalf("unexpected file name %q", r.FileName)
	}

	claims, err := issuer.Verify(r.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SaleID != "sale-1" || claims.BranchID != "b-main" || claims.Total != 283.5 {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	r, err := NewIssuer("one", "").Issue(sampleSale())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewIssuer("two", "").Verify(r.Token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := NewIssuer("one", "").Verify("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestWholesaleSaleRendersInvoice(t *testing.T) {
	sale := sampleSale()
	sale.Type = domain.SaleTypeB2B
	sale.CustomerName = "Acme"
	sale.CreditTerm = "net30"
	due := sale.CreatedAt.AddDate(0, 0, 30)
	sale.DueDate = &due

	r, err := NewIssuer("secret", "Shop").Issue(sale)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if r.Kind != "invoice" {
		t.Fatalf("expected invoice, got %s", r.Kind)
	}
	for _, want := range []string{"Customer: Acme", "Due      : 2024-03-31", "Terms    : net30"} {
		if !strings.Contains(r.PreviewText, want) {
			t.Fatalf("preview missing %q:\n%s", want, r.PreviewText)
		}
	}
	if strings.Contains(r.PreviewText, "Tax") {
		t.Fatalf("invoice must not show tax")
	}
}

func TestIssueRequiresSaleID(t *testing.T) {
	if _, err := NewIssuer("s", "").Issue(domain.Sale{}); err == nil {
		t.Fatalf("expected error for sale without id")
	}
}
