package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/n64lab/nat64d/internal/attrs"
	"github.com/n64lab/nat64d/internal/control"
	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/tlv"
)

// entryAttr is the single top-level attribute type the daemon uses to
// carry one model.Pool4Entry in a POOL4_ADD/POOL4_RM request body, and
// one repeated attribute type per entry of a POOL4_LIST response. It
// must match cmd/nat64d/handlers.go's convention exactly.
const entryAttr uint16 = 1

var errUnknownProto = errors.New("unknown protocol, expected udp, tcp, or icmp")

func pool4Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool4",
		Short: "Manage pool4 IPv4 address/port ranges",
	}

	cmd.AddCommand(pool4ListCmd())
	cmd.AddCommand(pool4AddCmd())
	cmd.AddCommand(pool4RemoveCmd())

	return cmd
}

func pool4ListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List pool4 ranges",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := sendRequest(control.OpPool4List, nil)
			if err != nil {
				return fmt.Errorf("list pool4: %w", err)
			}

			entries, err := decodeEntries(resp)
			if err != nil {
				return fmt.Errorf("decode pool4 list: %w", err)
			}

			out, err := formatPool4Entries(entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format pool4 list: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func pool4AddCmd() *cobra.Command {
	var opts pool4EntryFlags

	cmd := &cobra.Command{
		Use:   "add --prefix <cidr>",
		Short: "Add a pool4 range",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			entry, err := opts.toModel()
			if err != nil {
				return fmt.Errorf("parse flags: %w", err)
			}

			body, err := encodeEntry(entry)
			if err != nil {
				return fmt.Errorf("encode pool4 entry: %w", err)
			}

			if _, err := sendRequest(control.OpPool4Add, body); err != nil {
				return fmt.Errorf("add pool4 range: %w", err)
			}

			fmt.Printf("pool4 range %s added.\n", entry.Prefix.String())
			return nil
		},
	}

	opts.registerFlags(cmd)
	return cmd
}

func pool4RemoveCmd() *cobra.Command {
	var opts pool4EntryFlags

	cmd := &cobra.Command{
		Use:   "rm --prefix <cidr>",
		Short: "Remove a pool4 range",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			entry, err := opts.toModel()
			if err != nil {
				return fmt.Errorf("parse flags: %w", err)
			}

			body, err := encodeEntry(entry)
			if err != nil {
				return fmt.Errorf("encode pool4 entry: %w", err)
			}

			if _, err := sendRequest(control.OpPool4Remove, body); err != nil {
				return fmt.Errorf("remove pool4 range: %w", err)
			}

			fmt.Printf("pool4 range %s removed.\n", entry.Prefix.String())
			return nil
		},
	}

	opts.registerFlags(cmd)
	return cmd
}

// pool4EntryFlags holds the CLI flags common to `pool4 add` and `pool4 rm`.
type pool4EntryFlags struct {
	prefix     string
	proto      string
	mark       uint32
	iterations uint32
	portMin    uint16
	portMax    uint16
}

func (o *pool4EntryFlags) registerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.prefix, "prefix", "", "IPv4 prefix in CIDR form (required)")
	flags.StringVar(&o.proto, "proto", "udp", "protocol: udp, tcp, or icmp")
	flags.Uint32Var(&o.mark, "mark", 0, "routing mark selecting this range")
	flags.Uint32Var(&o.iterations, "iterations", 0, "addresses of prefix to enroll (0 = all)")
	flags.Uint16Var(&o.portMin, "port-min", 0, "minimum port in the reserved range")
	flags.Uint16Var(&o.portMax, "port-max", 0, "maximum port in the reserved range")
}

func (o *pool4EntryFlags) toModel() (model.Pool4Entry, error) {
	if o.prefix == "" {
		return model.Pool4Entry{}, errPrefixRequired
	}
	prefix, err := netaddr.ParsePrefix4(o.prefix)
	if err != nil {
		return model.Pool4Entry{}, fmt.Errorf("prefix %q: %w", o.prefix, err)
	}
	proto, err := parseProto(o.proto)
	if err != nil {
		return model.Pool4Entry{}, err
	}
	return model.Pool4Entry{
		Mark:       o.mark,
		Iterations: o.iterations,
		Proto:      proto,
		Prefix:     prefix,
		PortMin:    o.portMin,
		PortMax:    o.portMax,
	}, nil
}

var errPrefixRequired = errors.New("--prefix flag is required")

func parseProto(s string) (netaddr.L4Proto, error) {
	switch strings.ToLower(s) {
	case "udp", "":
		return netaddr.ProtoUDP, nil
	case "tcp":
		return netaddr.ProtoTCP, nil
	case "icmp":
		return netaddr.ProtoICMP, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownProto, s)
	}
}

func encodeEntry(entry model.Pool4Entry) ([]byte, error) {
	w := tlv.NewWriter()
	attrs.PutPool4Entry(w, entryAttr, entry)
	return w.Bytes(), nil
}

// decodeEntries decodes every entryAttr attribute in body as a
// model.Pool4Entry, preserving the daemon's emission order.
func decodeEntries(body []byte) ([]model.Pool4Entry, error) {
	attributes, err := tlv.NewStream(body).Attributes()
	if err != nil {
		return nil, fmt.Errorf("decode pool4 list: %w", err)
	}

	entries := make([]model.Pool4Entry, 0, len(attributes))
	for _, attr := range attributes {
		if attr.Type != entryAttr {
			continue
		}
		entry, err := attrs.GetPool4Entry(&attr, "pool4 entry")
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
