package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"skillswap/pkg/models"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXML  = "xml"
)

// Export writes all events matching f to w in the requested format.
// Integrity fields are included so an exported set can be re-verified
// offline.
func (l *Logger) Export(ctx context.Context, f Filter, format string, w io.Writer) error {
	events, err := l.store.Events(ctx, f)
	if err != nil {
		return fmt.Errorf("audit: load events for export: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if events == nil {
			events = []models.AuditEvent{}
		}
		return enc.Encode(events)
	case FormatCSV:
		return exportCSV(events, w)
	case FormatXML:
		return exportXML(events, w)
	default:
		return fmt.Errorf("audit: unsupported export format %q", format)
	}
}

var csvHeader = []string{
	"id", "timestamp", "type", "severity", "category", "description",
	"user_id", "ip", "resource_type", "resource_id", "action", "result",
	"risk_score", "previous_event_hash", "event_hash", "signature",
}

func exportCSV(events []models.AuditEvent, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			ev.ID,
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ev.Type,
			ev.Severity.String(),
			string(ev.Category),
			ev.Description,
			ev.Actor.UserID,
			ev.Actor.IP,
			ev.Resource.Type,
			ev.Resource.ID,
			ev.Resource.Action,
			ev.Resource.Result,
			strconv.Itoa(ev.RiskScore),
			ev.PreviousEventHash,
			ev.EventHash,
			ev.Signature,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type xmlEvent struct {
	XMLName           xml.Name `xml:"event"`
	ID                string   `xml:"id"`
	Timestamp         string   `xml:"timestamp"`
	Type              string   `xml:"type"`
	Severity          string   `xml:"severity"`
	Category          string   `xml:"category"`
	Description       string   `xml:"description"`
	UserID            string   `xml:"userId,omitempty"`
	IP                string   `xml:"ip,omitempty"`
	ResourceType      string   `xml:"resourceType,omitempty"`
	ResourceID        string   `xml:"resourceId,omitempty"`
	Action            string   `xml:"action,omitempty"`
	Result            string   `xml:"result,omitempty"`
	RiskScore         int      `xml:"riskScore"`
	PreviousEventHash string   `xml:"previousEventHash"`
	EventHash         string   `xml:"eventHash"`
	Signature         string   `xml:"signature"`
}

type xmlExport struct {
	XMLName xml.Name   `xml:"auditEvents"`
	Events  []xmlEvent `xml:"event"`
}

func exportXML(events []models.AuditEvent, w io.Writer) error {
	doc := xmlExport{Events: make([]xmlEvent, 0, len(events))}
	for _, ev := range events {
		doc.Events = append(doc.Events, xmlEvent{
			ID:                ev.ID,
			Timestamp:         ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Type:              ev.Type,
			Severity:          ev.Severity.String(),
			Category:          string(ev.Category),
			Description:       ev.Description,
			UserID:            ev.Actor.UserID,
			IP:                ev.Actor.IP,
			ResourceType:      ev.Resource.Type,
			ResourceID:        ev.Resource.ID,
			Action:            ev.Resource.Action,
			Result:            ev.Resource.Result,
			RiskScore:         ev.RiskScore,
			PreviousEventHash: ev.PreviousEventHash,
			EventHash:         ev.EventHash,
			Signature:         ev.Signature,
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
