package server

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/registry"
)

const registrationsSheet = "Workers"

var registrationHeaders = []string{"Worker ID", "Name", "Phone", "Emergency Phone", "Address", "Registered At"}

var registrationWidths = []float64{14, 24, 18, 18, 36, 22}

// handleExportRegistrations serves the registrations as a spreadsheet.
func (s *Server) handleExportRegistrations(w http.ResponseWriter, r *http.Request) {
	data, err := registrationsWorkbook(s.svc.Registrations())
	if err != nil {
		s.logger.Error("export registrations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=workers.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// registrationsWorkbook renders infos as a single-sheet workbook with a frozen
// header row.
func registrationsWorkbook(infos []registry.Info) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(registrationsSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFE699"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, header := range registrationHeaders {
		if err := setCell(f, i+1, 1, header); err != nil {
			return nil, err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(registrationsSheet, col, col, registrationWidths[i]); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(registrationHeaders), 1)
	if err := f.SetCellStyle(registrationsSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("set header style: %w", err)
	}

	for i, info := range infos {
		row := i + 2
		values := []any{
			info.WorkerID,
			info.Name,
			deref(info.Phone),
			deref(info.EmergencyPhone),
			deref(info.Address),
			info.RegisteredAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			if err := setCell(f, col+1, row, v); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(registrationsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetCellValue(registrationsSheet, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
