package interfaces

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"route-ledger/internal/observability/metrics"
	"route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
)

// CycleReport is everything a cycle export renders.
type CycleReport struct {
	Cycle       *settlement.Cycle
	Closing     application.ClosingStatement
	Settlements []settlement.Settlement
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// BuildCyclePDF renders a closed cycle report as PDF.
func BuildCyclePDF(report CycleReport) ([]byte, error) {
	c := report.Cycle
	stmt := report.Closing
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, tr("Relatório de ciclo: "+c.Title()))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Route: %s", c.RouteID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", c.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Started: %s", c.StartedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !c.EndedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Closed: %s", c.EndedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	rows := [][2]string{
		{"Revenue", money(stmt.Revenue)},
		{"Travel expenses", money(stmt.TravelExpenses)},
		{"Other expenses", money(stmt.OtherExpenses)},
		{"Subtotal", money(stmt.Subtotal)},
		{"Driver commission", money(stmt.DriverCommission)},
		{"Operator commission", money(stmt.OperatorCommission)},
	}
	for _, method := range settlement.PaymentMethods {
		rows = append(rows, [2]string{method, money(stmt.Payments[method])})
	}
	rows = append(rows,
		[2]string{"Net", money(stmt.Net)},
		[2]string{"Outstanding debt", money(c.Frozen.DebtTotal)},
		[2]string{"Clients settled", fmt.Sprintf("%d / %d (%d%%)", stmt.Summary.ClientsSettled, stmt.Summary.TotalClients, stmt.Summary.PercentSettled)},
	)
	for _, row := range rows {
		pdf.CellFormat(60, 6, tr(row[0]), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, row[1], "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Client", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Total", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Received", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Debt", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, st := range report.Settlements {
		pdf.CellFormat(30, 6, st.SettledAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, tr(st.ClientID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, money(st.Total), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, money(st.AmountReceived), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, money(st.ResultingDebt), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCycleXLSX renders a closed cycle report as a workbook with a
// summary sheet and one row per settlement line item.
func BuildCycleXLSX(report CycleReport) ([]byte, error) {
	c := report.Cycle
	stmt := report.Closing

	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	itemsSheet := "settlements"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Cycle", c.Title()},
		{"Route", c.RouteID},
		{"Status", string(c.Status)},
		{"Started", c.StartedAt.Format(time.RFC3339)},
		{"Revenue", stmt.Revenue.InexactFloat64()},
		{"Travel expenses", stmt.TravelExpenses.InexactFloat64()},
		{"Other expenses", stmt.OtherExpenses.InexactFloat64()},
		{"Subtotal", stmt.Subtotal.InexactFloat64()},
		{"Driver commission", stmt.DriverCommission.InexactFloat64()},
		{"Operator commission", stmt.OperatorCommission.InexactFloat64()},
	}
	for _, method := range settlement.PaymentMethods {
		summary = append(summary, [2]any{method, stmt.Payments[method].InexactFloat64()})
	}
	summary = append(summary,
		[2]any{"Net", stmt.Net.InexactFloat64()},
		[2]any{"Outstanding debt", c.Frozen.DebtTotal.InexactFloat64()},
		[2]any{"Clients settled", stmt.Summary.ClientsSettled},
		[2]any{"Total clients", stmt.Summary.TotalClients},
		[2]any{"Tables", stmt.Summary.TableCount},
	)
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	header := []string{"Settlement", "Date", "Client", "Table", "Meter start", "Meter end", "Fichas", "Subtotal", "Received", "Debt"}
	for i, title := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(itemsSheet, cell, title)
	}
	row := 2
	for _, st := range report.Settlements {
		for _, item := range st.Items {
			values := []any{
				st.ID,
				st.SettledAt.Format("2006-01-02"),
				st.ClientID,
				item.TableID,
				item.MeterStart,
				item.MeterEnd,
				item.FichasPlayed,
				item.Subtotal.InexactFloat64(),
				st.AmountReceived.InexactFloat64(),
				st.ResultingDebt.InexactFloat64(),
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				_ = f.SetCellValue(itemsSheet, cell, v)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", BuildCyclePDF)
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", BuildCycleXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func(CycleReport) ([]byte, error)) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	report, err := h.cycleReport(r, chi.URLParam(r, "cycleID"))
	if err != nil {
		result = metrics.ResultError
		h.writeServiceError(w, r, err)
		return
	}
	data, err := build(report)
	if err != nil {
		result = metrics.ResultError
		h.logger.WithField("cycle_id", report.Cycle.ID).WithError(err).Error("cycle export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName(report.Cycle, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, report.Cycle.RouteID, "cycle.export", "cycle", report.Cycle.ID, map[string]any{"format": format})
}

// cycleReport loads a CLOSED cycle with its closing figures. Open cycles
// are not exported since their figures still move.
func (h *Handler) cycleReport(r *http.Request, cycleID string) (CycleReport, error) {
	cycle, err := h.svc.Cycles.GetCycle(r.Context(), cycleID)
	if err != nil {
		return CycleReport{}, err
	}
	if cycle.Status != settlement.CycleStatusClosed {
		return CycleReport{}, settlement.Conflict("cycle", cycleID, "only closed cycles can be exported")
	}
	closing, err := h.svc.Reports.ClosingStatement(r.Context(), cycleID)
	if err != nil {
		return CycleReport{}, err
	}
	list, err := h.svc.Reports.Settlements(r.Context(), cycleID)
	if err != nil {
		return CycleReport{}, err
	}
	return CycleReport{Cycle: cycle, Closing: closing, Settlements: list}, nil
}
