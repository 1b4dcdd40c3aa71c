package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/n64lab/nat64d/internal/control"
)

func jooldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "joold",
		Short: "Exercise the joold session-replication protocol",
	}

	cmd.AddCommand(jooldTestCmd())
	cmd.AddCommand(jooldAdvertiseCmd())
	return cmd
}

func jooldTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Request a one-shot snapshot of the daemon's session table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return printJooldSnapshot(control.OpJooldTest)
		},
	}
}

func jooldAdvertiseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advertise",
		Short: "Request the daemon advertise its full session table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return printJooldSnapshot(control.OpJooldAdvertise)
		},
	}
}

func printJooldSnapshot(op control.Operation) error {
	resp, err := sendRequest(op, nil)
	if err != nil {
		return fmt.Errorf("joold request: %w", err)
	}

	rows, err := decodeSessionRows(resp)
	if err != nil {
		return fmt.Errorf("decode joold snapshot: %w", err)
	}

	out, err := formatSessions(rows, outputFormat)
	if err != nil {
		return fmt.Errorf("format joold snapshot: %w", err)
	}
	fmt.Print(out)
	fmt.Printf("%d session(s)\n", len(rows))
	return nil
}
