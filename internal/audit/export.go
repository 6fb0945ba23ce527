package audit

import (
	"encoding/csv"
	"io"
	"iter"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

var csvHeader = []string{"occurred_at", "actor_id", "action", "resource_type", "resource_id", "detail", "ip_address", "user_agent"}

// WriteCSV streams records to w and returns how many were written. It stops
// at the first error from the sequence or the writer.
func WriteCSV(w io.Writer, records iter.Seq2[identity.AuditRecord, error]) (int, error) {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(csvHeader); err != nil {
		return 0, err
	}
	count := 0
	for rec, err := range records {
		if err != nil {
			return count, err
		}
		actor := ""
		if rec.ActorID != nil {
			actor = rec.ActorID.String()
		}
		if err := writer.Write([]string{
			rec.OccurredAt.UTC().Format(time.RFC3339Nano),
			actor,
			rec.Action,
			rec.ResourceType,
			rec.ResourceID,
			rec.Detail,
			rec.IPAddress,
			rec.UserAgent,
		}); err != nil {
			return count, err
		}
		count++
	}
	writer.Flush()
	return count, writer.Error()
}
