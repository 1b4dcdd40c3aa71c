package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/n64lab/nat64d/internal/model"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPool4Entries renders pool4 rows in the requested format.
func formatPool4Entries(entries []model.Pool4Entry, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(pool4EntriesToView(entries))
	case formatTable:
		return formatPool4Table(entries)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPool4Table(entries []model.Pool4Entry) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tPROTO\tMARK\tITERATIONS\tPORT-MIN\tPORT-MAX")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			e.Prefix.String(), e.Proto.String(), e.Mark, e.Iterations, e.PortMin, e.PortMax)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

type pool4View struct {
	Prefix     string `json:"prefix"`
	Proto      string `json:"proto"`
	Mark       uint32 `json:"mark"`
	Iterations uint32 `json:"iterations"`
	PortMin    uint16 `json:"port_min"`
	PortMax    uint16 `json:"port_max"`
}

func pool4EntriesToView(entries []model.Pool4Entry) []pool4View {
	views := make([]pool4View, 0, len(entries))
	for _, e := range entries {
		views = append(views, pool4View{
			Prefix:     e.Prefix.String(),
			Proto:      e.Proto.String(),
			Mark:       e.Mark,
			Iterations: e.Iterations,
			PortMin:    e.PortMin,
			PortMax:    e.PortMax,
		})
	}
	return views
}

// formatSessions renders raw session rows in the requested format.
func formatSessions(rows []sessionRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(rows)
	case formatTable:
		return formatSessionsTable(rows)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionsTable(rows []sessionRow) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tSRC6\tSRC4\tDST4\tSTATE\tEXPIRES-IN")

	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Proto, r.Src6, r.Src4, r.Dst4, r.State, r.ExpiresIn)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

// sessionRow is the display-friendly projection of one decoded session.
type sessionRow struct {
	Proto     string        `json:"proto"`
	Src6      string        `json:"src6"`
	Src4      string        `json:"src4"`
	Dst4      string        `json:"dst4"`
	State     byte          `json:"state"`
	ExpiresIn time.Duration `json:"expires_in"`
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
