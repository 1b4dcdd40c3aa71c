package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/n64lab/nat64d/internal/control"
	"github.com/n64lab/nat64d/internal/sessionwire"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect live NAT64 sessions",
	}

	cmd.AddCommand(sessionListCmd())
	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List live NAT64 sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := sendRequest(control.OpSessionList, nil)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			rows, err := decodeSessionRows(resp)
			if err != nil {
				return fmt.Errorf("decode session list: %w", err)
			}

			out, err := formatSessions(rows, outputFormat)
			if err != nil {
				return fmt.Errorf("format session list: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

// decodeSessionRows splits body into sessionwire.Size chunks and projects
// each into a display row, reporting the remaining lifetime directly from
// the wire's packed dying-time field rather than reconstructing an
// absolute UpdateTime (which would additionally require the daemon's
// pool6 prefix and configured timeouts).
func decodeSessionRows(body []byte) ([]sessionRow, error) {
	if len(body)%sessionwire.Size != 0 {
		return nil, fmt.Errorf("session list body length %d is not a multiple of %d", len(body), sessionwire.Size)
	}

	count := len(body) / sessionwire.Size
	rows := make([]sessionRow, 0, count)
	for i := 0; i < count; i++ {
		chunk := body[i*sessionwire.Size : (i+1)*sessionwire.Size]
		row, err := sessionRowFromWire(chunk)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sessionRowFromWire decodes the fields of one wire-encoded session that
// don't require daemon-local configuration, deliberately skipping the
// RFC 6052 dst6 reconstruction sessionwire.Decode performs.
func sessionRowFromWire(buf []byte) (sessionRow, error) {
	raw, err := sessionwire.DecodeRaw(buf)
	if err != nil {
		return sessionRow{}, err
	}

	return sessionRow{
		Proto:     raw.Proto.String(),
		Src6:      raw.Src6.String(),
		Src4:      raw.Src4.String(),
		Dst4:      raw.Dst4.String(),
		State:     raw.State,
		ExpiresIn: time.Duration(raw.DyingTimeMillis) * time.Millisecond,
	}, nil
}
