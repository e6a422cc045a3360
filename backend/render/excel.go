// Package render writes a finished analysis as an Excel playbook.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/xuri/excelize/v2"
)

// Sheet names, in workbook order
const (
	SheetOverview    = "Overview"
	SheetClauses     = "Clause Analysis"
	SheetDefinitions = "Definitions"
	SheetQuickRef    = "Quick Reference"
)

// ContentType is the MIME type of the rendered workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	colorHeaderBg = "1F4E79"
	colorHeaderFg = "FFFFFF"
	colorRed      = "FFCCCC"
	colorYellow   = "FFFFCC"
	colorGreen    = "CCFFCC"
	colorNeutral  = "E6E6E6"
	colorAltRow   = "F2F2F2"
	colorBorder   = "CCCCCC"
)

// overviewListLimit bounds the deal-breaker and priority lists on Overview
const overviewListLimit = 15

var clauseHeaders = []string{
	"Section", "Subpart", "Issue", "Existing Language", "Issue Description",
	"Business Context", "Customer Concerns", "Customer Objectives",
	"Provider Concerns", "Provider Objectives", "Preferred Position",
	"Preferred Language", "Fallback Positions", "Don't Accept", "Risk",
	"Risk Explanation", "Approval", "Negotiation Tips",
}

var clauseWidths = []float64{10, 10, 25, 50, 40, 40, 40, 40, 40, 40, 35, 50, 45, 40, 12, 35, 14, 45}

// riskColumn is the 1-based column of "Risk" on the clause sheet
const riskColumn = 15

var definitionHeaders = []string{"Term", "Definition", "Why It Matters"}

// ExcelRenderer renders analyses with excelize
type ExcelRenderer struct {
	// Now stamps the "Generated" line; defaults to time.Now
	Now func() time.Time
}

// NewExcelRenderer creates an ExcelRenderer
func NewExcelRenderer() *ExcelRenderer {
	return &ExcelRenderer{Now: time.Now}
}

// Render writes the workbook to w
func (r *ExcelRenderer) Render(a *model.Analysis, w io.Writer) error {
	f, err := r.build(a)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// RenderFile writes the workbook to path
func (r *ExcelRenderer) RenderFile(a *model.Analysis, path string) error {
	f, err := r.build(a)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

func (r *ExcelRenderer) build(a *model.Analysis) (*excelize.File, error) {
	if a == nil {
		return nil, fmt.Errorf("render: nil analysis")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	f := excelize.NewFile()
	b := &book{f: f}
	b.styles = b.newStyles()

	b.check(f.SetSheetName("Sheet1", SheetOverview))
	for _, name := range []string{SheetClauses, SheetDefinitions, SheetQuickRef} {
		_, err := f.NewSheet(name)
		b.check(err)
	}

	b.overview(a, now())
	b.clauses(a.Clauses)
	b.definitions(a.Definitions)
	b.quickReference(a.QuickReference)
	f.SetActiveSheet(0)

	if b.err != nil {
		f.Close()
		return nil, fmt.Errorf("render: %w", b.err)
	}
	return f, nil
}

type styles struct {
	title, subtitle, bold, italic, wrap, header, altRow int
	risk                                                map[model.RiskLevel]int
	section                                             map[model.RiskLevel]int
}

// book wraps an excelize file and keeps the first error, so the sheet
// builders read as straight-line layout code
type book struct {
	f      *excelize.File
	styles styles
	err    error
}

func (b *book) check(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *book) style(s *excelize.Style) int {
	id, err := b.f.NewStyle(s)
	b.check(err)
	return id
}

func (b *book) newStyles() styles {
	border := []excelize.Border{
		{Type: "left", Color: colorBorder, Style: 1},
		{Type: "right", Color: colorBorder, Style: 1},
		{Type: "top", Color: colorBorder, Style: 1},
		{Type: "bottom", Color: colorBorder, Style: 1},
	}
	wrap := &excelize.Alignment{WrapText: true, Vertical: "top"}
	fill := func(color string) excelize.Fill {
		return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
	}

	s := styles{
		title:    b.style(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16}}),
		subtitle: b.style(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 12}}),
		bold:     b.style(&excelize.Style{Font: &excelize.Font{Bold: true}}),
		italic:   b.style(&excelize.Style{Font: &excelize.Font{Italic: true}}),
		wrap:     b.style(&excelize.Style{Alignment: wrap, Border: border}),
		altRow:   b.style(&excelize.Style{Alignment: wrap, Border: border, Fill: fill(colorAltRow)}),
		header: b.style(&excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 11, Color: colorHeaderFg},
			Fill:      fill(colorHeaderBg),
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
			Border:    border,
		}),
		risk:    map[model.RiskLevel]int{},
		section: map[model.RiskLevel]int{},
	}
	for level, color := range riskColors {
		s.risk[level] = b.style(&excelize.Style{
			Fill:      fill(color),
			Border:    border,
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "top"},
		})
		s.section[level] = b.style(&excelize.Style{
			Font: &excelize.Font{Bold: true, Size: 12},
			Fill: fill(color),
		})
	}
	return s
}

var riskColors = map[model.RiskLevel]string{
	model.RiskRed:          colorRed,
	model.RiskYellow:       colorYellow,
	model.RiskGreen:        colorGreen,
	model.RiskUnclassified: colorNeutral,
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func (b *book) set(sheet string, col, row int, value any, style int) {
	c := cell(col, row)
	b.check(b.f.SetCellValue(sheet, c, value))
	if style != 0 {
		b.check(b.f.SetCellStyle(sheet, c, c, style))
	}
}

// banner writes value across columns 1..width of row
func (b *book) banner(sheet string, row, width int, value any, style int) {
	b.set(sheet, 1, row, value, style)
	b.check(b.f.MergeCell(sheet, cell(1, row), cell(width, row)))
}

func (b *book) widths(sheet string, widths []float64) {
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		b.check(b.f.SetColWidth(sheet, col, col, w))
	}
}

func (b *book) headerRow(sheet string, headers []string) {
	for i, h := range headers {
		b.set(sheet, i+1, 1, h, b.styles.header)
	}
}

func (b *book) overview(a *model.Analysis, generated time.Time) {
	const sheet = SheetOverview
	s := a.AgreementSummary
	if s == nil {
		s = &model.AgreementSummary{}
	}

	b.banner(sheet, 1, 4, "CONTRACT PLAYBOOK", b.styles.title)
	b.banner(sheet, 2, 4, "Generated: "+generated.Format("January 02, 2006"), b.styles.italic)
	if note := s.TruncationNote.String(); note != "" {
		b.banner(sheet, 3, 4, "⚠ "+note, b.styles.section[model.RiskYellow])
	}
	b.banner(sheet, 4, 4, "AGREEMENT SUMMARY", b.styles.subtitle)

	rows := []struct {
		label string
		value string
	}{
		{"Agreement Title:", orDefault(s.Title.String(), "Not specified")},
		{"Agreement Type:", orDefault(s.AgreementType.String(), "Not specified")},
		{"Parties:", orDefault(s.Parties.String(), "Not specified")},
		{"Purpose:", orDefault(s.Purpose.String(), "Not specified")},
		{"Key Dates/Terms:", orDefault(s.KeyDates.String(), "Not specified")},
		{"Governing Law:", orDefault(s.GoverningLaw.String(), "Not specified")},
		{"Overall Risk Level:", orDefault(string(s.OverallRiskLevel), string(model.OverallUnclassified))},
		{"Critical Issues:", fmt.Sprint(int(s.CriticalIssuesCount))},
	}
	row := 6
	for _, r := range rows {
		b.set(sheet, 1, row, r.label, b.styles.bold)
		b.set(sheet, 2, row, r.value, 0)
		row++
	}

	row++
	b.banner(sheet, row, 4, "EXECUTIVE SUMMARY", b.styles.subtitle)
	row++
	b.banner(sheet, row, 4, s.ExecutiveSummary.String(), b.styles.wrap)
	b.check(b.f.SetRowHeight(sheet, row, 80))

	row += 3
	b.banner(sheet, row, 4, "RISK LEVEL LEGEND", b.styles.subtitle)
	row += 2
	legend := []struct {
		level model.RiskLevel
		text  string
	}{
		{model.RiskRed, "Deal breaker - requires legal review and executive approval"},
		{model.RiskYellow, "Needs attention - requires manager or legal approval"},
		{model.RiskGreen, "Acceptable - can proceed without escalation"},
		{model.RiskUnclassified, "Not rated by the analysis - review manually"},
	}
	for _, l := range legend {
		b.set(sheet, 1, row, string(l.level), b.styles.risk[l.level])
		b.set(sheet, 2, row, l.text, 0)
		row++
	}

	q := a.QuickReference
	if q == nil {
		q = &model.QuickReference{}
	}
	row += 2
	row = b.list(sheet, row, 4, "DEAL BREAKERS (Do Not Accept)", model.RiskRed, "✗ ", q.DealBreakers, overviewListLimit)
	row++
	b.list(sheet, row, 4, "HIGH PRIORITY ITEMS", model.RiskYellow, "⚠ ", q.HighPriorityItems, overviewListLimit)

	b.widths(sheet, []float64{25, 60, 30, 30})
}

// list writes a coloured section heading followed by one merged row per
// item, and returns the next free row
func (b *book) list(sheet string, row, width int, title string, level model.RiskLevel, prefix string, items []string, limit int) int {
	style := b.styles.subtitle
	if level != "" {
		style = b.styles.section[level]
	}
	b.banner(sheet, row, width, title, style)
	row++
	for i, item := range items {
		if limit > 0 && i >= limit {
			break
		}
		b.banner(sheet, row, width, prefix+item, 0)
		row++
	}
	return row
}

func (b *book) clauses(clauses []model.Clause) {
	const sheet = SheetClauses
	b.headerRow(sheet, clauseHeaders)
	b.check(b.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      3,
		YSplit:      1,
		TopLeftCell: "D2",
		ActivePane:  "bottomRight",
	}))

	for i := range clauses {
		c := &clauses[i]
		row := i + 2
		values := []string{
			c.SectionReference.String(),
			c.Subpart.String(),
			c.ClauseTitle.String(),
			c.OriginalLanguage.String(),
			c.IssueDescription.String(),
			c.BusinessContext.String(),
			bullets(c.CustomerPerspective.Concerns),
			bullets(c.CustomerPerspective.Objectives),
			bullets(c.ProviderPerspective.Concerns),
			bullets(c.ProviderPerspective.Objectives),
			c.PreferredPosition.Description.String(),
			c.PreferredPosition.SampleLanguage.String(),
			fallbackText(c.FallbackPositions),
			avoidText(c.PositionsToAvoid),
			string(c.RiskLevel),
			c.RiskExplanation.String(),
			orDefault(c.ApprovalRequired.String(), "None"),
			bullets(c.NegotiationTips),
		}

		rowStyle := b.styles.wrap
		if row%2 == 0 {
			rowStyle = b.styles.altRow
		}
		for col, v := range values {
			style := rowStyle
			if col+1 == riskColumn {
				style = b.riskStyle(c.RiskLevel)
			}
			b.set(sheet, col+1, row, v, style)
		}
		b.check(b.f.SetRowHeight(sheet, row, 80))
	}
	b.widths(sheet, clauseWidths)
}

func (b *book) riskStyle(level model.RiskLevel) int {
	if id, ok := b.styles.risk[level]; ok {
		return id
	}
	return b.styles.risk[model.RiskUnclassified]
}

func (b *book) definitions(defs []model.Definition) {
	const sheet = SheetDefinitions
	b.headerRow(sheet, definitionHeaders)
	b.check(b.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}))

	for i := range defs {
		d := &defs[i]
		row := i + 2
		style := b.styles.wrap
		if row%2 == 0 {
			style = b.styles.altRow
		}
		b.set(sheet, 1, row, d.Term.String(), style)
		b.set(sheet, 2, row, d.Definition.String(), style)
		b.set(sheet, 3, row, d.Importance.String(), style)
		b.check(b.f.SetRowHeight(sheet, row, 60))
	}
	b.widths(sheet, []float64{25, 50, 35})
}

func (b *book) quickReference(q *model.QuickReference) {
	const sheet = SheetQuickRef
	if q == nil {
		q = &model.QuickReference{}
	}

	b.banner(sheet, 1, 3, "QUICK REFERENCE GUIDE", b.styles.title)
	row := 3
	row = b.list(sheet, row, 3, "DEAL BREAKERS - Never Accept These Terms", model.RiskRed, "✗ ", q.DealBreakers, 0)
	row++
	row = b.list(sheet, row, 3, "HIGH PRIORITY - Requires Approval for Deviation", model.RiskYellow, "⚠ ", q.HighPriorityItems, 0)
	row++
	row = b.list(sheet, row, 3, "STANDARD ACCEPTABLE TERMS", model.RiskGreen, "✓ ", q.StandardAcceptableTerms, 0)
	row++
	b.list(sheet, row, 3, "COMMON NEGOTIATION POINTS", "", "• ", q.CommonNegotiationPoints, 0)

	b.widths(sheet, []float64{25, 50, 30})
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// bullets renders a list as "• item" lines, dropping bullets the model
// already added
func bullets(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if clean := strings.TrimSpace(strings.TrimLeft(item, "•-* ")); clean != "" {
			lines = append(lines, "• "+clean)
		}
	}
	return strings.Join(lines, "\n")
}

func fallbackText(positions []model.FallbackPosition) string {
	var sb strings.Builder
	for i, p := range positions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Description)
		if p.SampleLanguage != "" {
			fmt.Fprintf(&sb, "   Language: %s\n", p.SampleLanguage)
		}
		if p.Conditions != "" {
			fmt.Fprintf(&sb, "   When: %s\n", p.Conditions)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func avoidText(positions []model.AvoidPosition) string {
	var sb strings.Builder
	for _, p := range positions {
		fmt.Fprintf(&sb, "✗ %s\n", p.Description)
		if p.Reason != "" {
			fmt.Fprintf(&sb, "  Reason: %s\n", p.Reason)
		}
	}
	return strings.TrimSpace(sb.String())
}
