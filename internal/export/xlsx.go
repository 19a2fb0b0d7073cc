// Package export renders extracted invoice fields as an XLSX workbook for
// download.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"invoiceocr/internal/extract"
)

const sheetName = "Invoices"

var headers = []string{
	"page", "invoice_number", "invoice_date", "vendor_name",
	"customer_name", "total_amount", "tax_amount",
}

// FieldsWorkbook builds a workbook with one row per extracted page,
// preserving page order. Pages that failed extraction appear with empty
// fields, same as in the JSON response.
func FieldsWorkbook(rows []extract.PageFields) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header %s: %w", h, err)
		}
	}

	for rowIdx, r := range rows {
		values := []any{
			r.Page, r.InvoiceNumber, r.InvoiceDate, r.VendorName,
			r.CustomerName, r.TotalAmount, r.TaxAmount,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", rowIdx+2, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
