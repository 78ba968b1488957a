// Package receipt renders receipts and invoices for recorded sales and signs
// a verification token that can be printed as a QR or reference code.
package receipt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"vendify/internal/domain"
)

var ErrInvalidToken = errors.New("invalid receipt token")

type Receipt struct {
	SaleID       string `json:"saleId"`
	SaleNumber   string `json:"saleNumber"`
	Kind         string `json:"kind"`
	PreviewText  string `json:"previewText"`
	EscposBase64 string `json:"escposBase64"`
	Token        string `json:"token"`
	FileName     string `json:"fileName"`
}

// Claims is what a verified token vouches for.
type Claims struct {
	SaleID     string  `json:"saleId"`
	SaleNumber string  `json:"saleNumber"`
	BranchID   string  `json:"branchId"`
	Total      float64 `json:"total"`
}

type receiptClaims struct {
	jwtlib.RegisteredClaims
	SaleNumber string  `json:"num,omitempty"`
	BranchID   string  `json:"bid"`
	Total      float64 `json:"tot"`
}

type Issuer struct {
	secret []byte
	title  string
	now    func() time.Time
}

func NewIssuer(secret string, title string) *Issuer {
	if secret == "" {
		secret = "dev-change-me"
	}
	if title == "" {
		title = "Vendify POS"
	}
	return &Issuer{secret: []byte(secret), title: title, now: time.Now}
}

// Issue renders sale as a receipt (POS) or invoice (B2B) and signs its token.
func (i *Issuer) Issue(sale domain.Sale) (Receipt, error) {
	if sale.ID == "" {
		return Receipt{}, fmt.Errorf("%w: sale has no id", domain.ErrValidation)
	}
	token, err := i.sign(sale)
	if err != nil {
		return Receipt{}, err
	}

	kind := "receipt"
	if sale.Type == domain.SaleTypeB2B {
		kind = "invoice"
	}
	lines := i.render(sale, kind)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, line...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, 0x1d, 0x56, 0x41, 0x10)

	ref := sale.SaleNumber
	if ref == "" {
		ref = sale.ID
	}
	return Receipt{
		SaleID:       sale.ID,
		SaleNumber:   sale.SaleNumber,
		Kind:         kind,
		PreviewText:  strings.Join(lines, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		Token:        token,
		FileName:     fmt.Sprintf("%s-%s.bin", kind, ref),
	}, nil
}

func (i *Issuer) render(sale domain.Sale, kind string) []string {
	lines := []string{
		i.title,
		"========================",
		strings.ToUpper(kind) + ": " + defaultString(sale.SaleNumber, sale.ID),
		"Branch: " + defaultString(sale.BranchName, sale.BranchCode),
		"Date: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if sale.CustomerName != "" {
		lines = append(lines, "Customer: "+sale.CustomerName)
	}
	lines = append(lines, "------------------------")
	for _, item := range sale.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		lines = append(lines, fmt.Sprintf("  %.2f", item.Total))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Subtotal : %.2f", sale.Subtotal),
		fmt.Sprintf("Discount : %.2f", sale.DiscountAmount),
	)
	if sale.Type != domain.SaleTypeB2B {
		lines = append(lines, fmt.Sprintf("Tax      : %.2f", sale.TaxAmount))
	}
	lines = append(lines, fmt.Sprintf("Total    : %.2f", sale.Total))
	if sale.CreditTerm != "" {
		lines = append(lines, "Terms    : "+sale.CreditTerm)
	}
	if sale.DueDate != nil {
		lines = append(lines, "Due      : "+sale.DueDate.Format("2006-01-02"))
	}
	lines = append(lines, "========================", "Thank you", "")
	return lines
}

func (i *Issuer) sign(sale domain.Sale) (string, error) {
	claims := receiptClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:  sale.ID,
			IssuedAt: jwtlib.NewNumericDate(i.now().UTC()),
			Issuer:   "vendify",
		},
		SaleNumber: sale.SaleNumber,
		BranchID:   sale.BranchID,
		Total:      sale.Total,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks a receipt token's signature and returns its claims.
func (i *Issuer) Verify(tokenStr string) (Claims, error) {
	claims := &receiptClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("vendify"))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		SaleID:     sub,
		SaleNumber: claims.SaleNumber,
		BranchID:   claims.BranchID,
		Total:      claims.Total,
	}, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
