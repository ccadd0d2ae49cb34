package main

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alepar/wp6003/airquality/wp6003"
)

var decodeCmd = &cobra.Command{
	Use:   "decode HEX",
	Short: "Decode a captured sensor payload",
	Long: `Decodes an 18 byte WP6003 payload given as hex and prints the reading as JSON.
Spaces and colons between bytes are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	payload, err := parseHex(args[0])
	if err != nil {
		return err
	}

	reading, err := wp6003.Decode(payload)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(reading.Fields())
}

func parseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hex %q", s)
	}
	return b, nil
}
