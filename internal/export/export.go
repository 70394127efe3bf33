package export

import (
	"bufio"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format names an output encoding.
type Format string

const (
	CSV  Format = "csv"
	HTML Format = "html"
	XLSX Format = "xlsx"
)

// ParseFormat accepts csv, html (or pdf, which prints the html) and xlsx
// (or excel).
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, true
	case "html", "pdf", "print":
		return HTML, true
	case "xlsx", "excel":
		return XLSX, true
	}
	return "", false
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case HTML:
		return "text/html; charset=utf-8"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Ext is the file extension without the dot.
func (f Format) Ext() string { return string(f) }

// Table is a titled grid of strings.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Write encodes t in format f.
func Write(w io.Writer, f Format, t Table) error {
	switch f {
	case HTML:
		return WriteHTML(w, t)
	case XLSX:
		return WriteXLSX(w, t)
	}
	return WriteCSV(w, t)
}

const bom = "\uFEFF"

// WriteCSV writes a UTF-8 BOM, then the header and rows with every field
// quoted and embedded quotes doubled. Lines end in \n.
func WriteCSV(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(bom); err != nil {
		return err
	}
	writeLine := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(f, `"`, `""`))
			bw.WriteByte('"')
		}
		bw.WriteByte('\n')
	}
	if len(t.Headers) > 0 {
		writeLine(t.Headers)
	}
	for _, row := range t.Rows {
		writeLine(row)
	}
	return bw.Flush()
}

var printTemplate = template.Must(template.New("print").Parse(`<!DOCTYPE html>
<html dir="rtl" lang="ar">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; padding: 20px; }
h1 { text-align: center; color: #3b82f6; }
table { width: 100%; border-collapse: collapse; margin-top: 20px; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: right; }
th { background-color: #3b82f6; color: white; }
tr:nth-child(even) { background-color: #f9fafb; }
@media print { h1 { color: black; } }
</style>
</head>
<body onload="window.print()">
<h1>{{.Title}}</h1>
<table>
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

// WriteHTML renders a print-ready right-to-left page that opens the print
// dialog on load.
func WriteHTML(w io.Writer, t Table) error {
	return printTemplate.Execute(w, t)
}

// WriteXLSX writes a workbook with one right-to-left sheet named after the
// title.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(t.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	rtl := true
	if err := f.SetSheetView(sheet, 0, &excelize.ViewOptions{RightToLeft: &rtl}); err != nil {
		return err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"3B82F6"}},
	})
	if err != nil {
		return err
	}

	for c, h := range t.Headers {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	if n := len(t.Headers); n > 0 {
		last, _ := excelize.CoordinatesToCellName(n, 1)
		if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
			return err
		}
	}
	for r, row := range t.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("cell %s: %w", cell, err)
			}
		}
	}
	return f.Write(w)
}

// sheetName trims title to the 31 characters Excel allows and drops the
// characters it forbids.
func sheetName(title string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return -1
		}
		return r
	}, title)
	runes := []rune(strings.TrimSpace(clean))
	if len(runes) > 31 {
		runes = runes[:31]
	}
	if len(runes) == 0 {
		return "Sheet1"
	}
	return string(runes)
}
