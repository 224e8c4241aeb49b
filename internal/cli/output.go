package cli

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statsLine(s diff.Stats) string {
	return fmt.Sprintf("+%d added, ~%d updated, -%d removed", s.Added, s.Updated, s.Removed)
}

func writeAudit(w io.Writer, e model.AuditEntry) {
	fmt.Fprintf(w, "#%d %s %s by %s: +%d ~%d -%d\n",
		e.ID,
		e.CreatedAt.Format("2006-01-02 15:04:05"),
		e.Kind,
		e.Actor,
		e.Summary.Added, e.Summary.Updated, e.Summary.Removed)
}
