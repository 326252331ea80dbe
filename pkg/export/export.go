// Package export renders session and CDR history to CSV, JSON and XLSX.
// It reads straight from the snapshot store so the output reflects exactly
// what the service persisted, reconciled billing included.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a user-supplied string (typically a CLI flag or file
// extension) to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatXLSX:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Report holds the rows to render, already sorted by start time.
type Report struct {
	Sessions []model.ChargingSession `json:"sessions"`
	CDRs     []model.CDR             `json:"cdrs"`
}

// Load collects all sessions and CDRs from the store.
func Load(ctx context.Context, st store.Store) (*Report, error) {
	sessions, err := store.ListAs[model.ChargingSession](ctx, st, store.Sessions)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	cdrs, err := store.ListAs[model.CDR](ctx, st, store.CDRs)
	if err != nil {
		return nil, fmt.Errorf("list cdrs: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	sort.Slice(cdrs, func(i, j int) bool {
		return cdrs[i].StartTime.Before(cdrs[j].StartTime)
	})
	return &Report{Sessions: sessions, CDRs: cdrs}, nil
}

// Write renders the report in the requested format.
func (r *Report) Write(w io.Writer, f Format) error {
	switch f {
	case FormatCSV:
		return r.writeCSV(w)
	case FormatJSON:
		return r.writeJSON(w)
	case FormatXLSX:
		return r.writeXLSX(w)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

var sessionHeader = []string{
	"id", "vehicle_id", "location_id", "station_uid", "connector_id",
	"status", "start_time", "end_time", "cdr_id", "cost", "kwh", "duration_seconds",
}

func sessionRow(s model.ChargingSession) []string {
	end := ""
	if s.EndTime != nil {
		end = s.EndTime.UTC().Format(time.RFC3339)
	}
	return []string{
		s.ID, s.VehicleID, s.LocationID, s.StationUID, s.ConnectorID,
		string(s.Status), s.StartTime.UTC().Format(time.RFC3339), end,
		s.CDRID,
		strconv.FormatFloat(s.Cost, 'f', -1, 64),
		strconv.FormatFloat(s.KWh, 'f', -1, 64),
		strconv.FormatInt(s.DurationSeconds, 10),
	}
}

var cdrHeader = []string{
	"id", "session_id", "vehicle_id", "start_time", "end_time",
	"total_cost", "total_energy_kwh", "avg_kwh_price", "duration_seconds", "currency",
}

func cdrRow(c model.CDR) []string {
	return []string{
		c.ID, c.SessionID, c.VehicleID,
		c.StartTime.UTC().Format(time.RFC3339),
		c.EndTime.UTC().Format(time.RFC3339),
		strconv.FormatFloat(c.TotalCost, 'f', -1, 64),
		strconv.FormatFloat(c.TotalEnergyKWh, 'f', -1, 64),
		strconv.FormatFloat(c.AvgKWhPrice, 'f', -1, 64),
		strconv.FormatInt(c.DurationSeconds, 10),
		c.Currency,
	}
}

// writeCSV emits the sessions table followed by a blank line and the CDR
// table, so a single file carries both without a zip container.
func (r *Report) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sessionHeader); err != nil {
		return err
	}
	for _, s := range r.Sessions {
		if err := cw.Write(sessionRow(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	cw = csv.NewWriter(w)
	if err := cw.Write(cdrHeader); err != nil {
		return err
	}
	for _, c := range r.CDRs {
		if err := cw.Write(cdrRow(c)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (r *Report) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *Report) writeXLSX(w io.Writer) error {
	f := excelize.NewFile()
	sessionSheet := "sessions"
	cdrSheet := "cdrs"
	f.SetSheetName("Sheet1", sessionSheet)
	if _, err := f.NewSheet(cdrSheet); err != nil {
		return err
	}

	for col, name := range sessionHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sessionSheet, cell, name)
	}
	for i, s := range r.Sessions {
		for col, val := range sessionRow(s) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sessionSheet, cell, val)
		}
	}

	for col, name := range cdrHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(cdrSheet, cell, name)
	}
	for i, c := range r.CDRs {
		for col, val := range cdrRow(c) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(cdrSheet, cell, val)
		}
	}

	return f.Write(w)
}
