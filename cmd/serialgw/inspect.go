package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/serialgw/internal/gateway"
	"github.com/danmuck/serialgw/internal/protocol/cobs"
	"github.com/danmuck/serialgw/internal/protocol/frame"
	"github.com/danmuck/serialgw/internal/protocol/framing"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "inspect <hex>",
		Short: "Decode one captured frame and print its fields",
		Long: `inspect decodes a hex dump of one stuffed frame. Delimiter bytes around the
body are ignored. With --raw the input is taken as an already unstuffed frame.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0], raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "input is not COBS stuffed")
	return cmd
}

func inspect(w io.Writer, dump string, raw bool) error {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(dump)
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if !raw {
		buf = bytes.Trim(buf, string([]byte{framing.Delimiter}))
		n, err := cobs.Decode(buf)
		if err != nil {
			return fmt.Errorf("%s: %w", gateway.ErrorKind(err), err)
		}
		buf = buf[:n]
	}
	f, err := frame.Parse(buf, frame.DefaultLimits())
	if err != nil {
		return fmt.Errorf("%s: %w", gateway.ErrorKind(err), err)
	}
	fmt.Fprintf(w, "version  %d\n", f.Version)
	fmt.Fprintf(w, "msg_id   %d\n", f.MsgID)
	fmt.Fprintf(w, "channel  %q\n", f.ChannelName())
	fmt.Fprintf(w, "ctype    %q\n", f.ContentType())
	fmt.Fprintf(w, "payload  %d bytes %q\n", len(f.Payload), f.Payload)
	return nil
}
