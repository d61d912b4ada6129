package main

import (
	"fmt"
	"io"

	"github.com/codefionn/bfrelay/internal/transform"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var selftestSamples = []string{"hi", "hello", "test123", "Hello World!"}

var selftestCmd = &cobra.Command{
	Use:   "selftest [text...]",
	Short: "Check that encoding and decoding round-trip",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		samples := selftestSamples
		if len(args) > 0 {
			samples = args
		}
		if failed := runSelftest(cmd.OutOrStdout(), transform.NewCodec(0), samples); failed > 0 {
			return fmt.Errorf("%d of %d samples failed", failed, len(samples))
		}
		return nil
	},
}

// runSelftest prints one line per sample and returns how many failed to
// round-trip. Each line also shows whether the decoded text is a valid
// payload.
func runSelftest(w io.Writer, codec *transform.Codec, samples []string) int {
	fmt.Fprint(w, color.CyanString("=== Transform Self-Test ===\n"))

	failed := 0
	for _, sample := range samples {
		enc := codec.Encode(sample)
		dec := codec.Decode(enc.Text)

		ok := !enc.Passthrough && !dec.Passthrough && dec.Text == sample
		status := color.GreenString("PASS")
		if !ok {
			status = color.RedString("FAIL")
			failed++
		}
		fmt.Fprintf(w, "%s %q -> %q -> %q valid=%t\n", status, sample, enc.Text, dec.Text, transform.IsValidPayload(dec.Text))
	}

	fmt.Fprint(w, color.CyanString("=== %d/%d passed ===\n", len(samples)-failed, len(samples)))
	return failed
}
