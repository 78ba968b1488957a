package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

var saleHeader = []string{
	"sale_number", "date", "branch", "type", "customer", "payment_method",
	"subtotal", "discount", "tax", "total", "profit", "status",
}

func saleRows(s SalesSummary) [][]string {
	rows := make([][]string, 0, len(s.Sales))
	for _, sale := range s.Sales {
		number := sale.SaleNumber
		if number == "" {
			number = sale.ID
		}
		rows = append(rows, []string{
			number,
			sale.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			sale.BranchCode,
			sale.Type,
			sale.CustomerName,
			sale.PaymentMethod,
			formatMoney(sale.Subtotal),
			formatMoney(sale.DiscountAmount),
			formatMoney(sale.TaxAmount),
			formatMoney(sale.Total),
			formatMoney(sale.Profit),
			sale.Status,
		})
	}
	return rows
}

// WriteSalesCSV writes one row per sale followed by a totals row.
func WriteSalesCSV(w io.Writer, s SalesSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(saleHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(saleRows(s)); err != nil {
		return err
	}
	totals := []string{"TOTAL", "", "", "", "", "", "", formatMoney(s.Discounts), formatMoney(s.Tax), formatMoney(s.Revenue), formatMoney(s.Profit), strconv.Itoa(s.SalesCount)}
	if err := cw.Write(totals); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteInventoryCSV writes the valuation rows.
func WriteInventoryCSV(w io.Writer, v InventoryValuation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"item_id", "name", "sku", "category", "branch", "quantity", "cost", "price", "cost_value", "retail_value"}); err != nil {
		return err
	}
	for _, r := range v.Rows {
		if err := cw.Write([]string{
			r.ItemID, r.Name, r.SKU, r.Category, r.BranchCode,
			strconv.Itoa(r.Quantity),
			formatMoney(r.Cost), formatMoney(r.Price),
			formatMoney(r.CostValue), formatMoney(r.RetailValue),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSalesXLSX writes a workbook with a summary sheet, the sales list and
// the top items.
func WriteSalesXLSX(w io.Writer, s SalesSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	summary := [][]any{
		{"From", s.From.Format(dateLayout)},
		{"To", s.To.Format(dateLayout)},
		{"Sales", s.SalesCount},
		{"Revenue", s.Revenue},
		{"Discounts", s.Discounts},
		{"Tax", s.Tax},
		{"Profit", s.Profit},
		{"Average sale", s.AverageSale},
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}
	row := len(summary) + 2
	if err := writeRow(f, summarySheet, row, []any{"Payment method", "Count", "Total"}); err != nil {
		return err
	}
	for _, m := range s.ByPaymentMethod {
		row++
		if err := writeRow(f, summarySheet, row, []any{m.Method, m.Count, m.Total}); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet("Sales"); err != nil {
		return fmt.Errorf("create sales sheet: %w", err)
	}
	sales := make([][]any, 0, len(s.Sales)+1)
	sales = append(sales, toAny(saleHeader))
	for _, sale := range s.Sales {
		sales = append(sales, []any{
			sale.SaleNumber,
			sale.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			sale.BranchCode,
			sale.Type,
			sale.CustomerName,
			sale.PaymentMethod,
			sale.Subtotal,
			sale.DiscountAmount,
			sale.TaxAmount,
			sale.Total,
			sale.Profit,
			sale.Status,
		})
	}
	if err := writeRows(f, "Sales", sales); err != nil {
		return err
	}

	if _, err := f.NewSheet("Top Items"); err != nil {
		return fmt.Errorf("create items sheet: %w", err)
	}
	items := [][]any{{"Item", "Quantity", "Revenue"}}
	for _, it := range s.TopItems {
		items = append(items, []any{it.Name, it.Quantity, it.Revenue})
	}
	if err := writeRows(f, "Top Items", items); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, r := range rows {
		if err := writeRow(f, sheet, i+1, r); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
