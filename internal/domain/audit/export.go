package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// csvHeader is the fixed export header row.
var csvHeader = []string{
	"Timestamp", "Action", "Category", "Status", "Actor",
	"Target", "Target Type", "IP Address", "Details",
}

// WriteCSV serializes events to CSV with RFC-4180 quoting. Details is the
// JSON-stringified metadata.
func WriteCSV(w io.Writer, events []*AuditEvent) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}

	for _, e := range events {
		actor := ""
		if e.ActorUserID != nil {
			actor = *e.ActorUserID
		}
		details := ""
		if e.Metadata != nil {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("audit export csv: marshal metadata for %s: %w", e.ID, err)
			}
			details = string(raw)
		}

		record := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Action,
			string(e.Category),
			e.Status,
			actor,
			e.TargetName,
			e.TargetType,
			e.IPAddress,
			details,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
