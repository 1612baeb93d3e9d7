package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/ticketcache/fingerprint"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [key=value ...]",
	Short: "Print the canonical fingerprint and query string of a ticket filter",
	Example: `  ticketcache fingerprint status=OPEN priority=HIGH sortOrder=desc
  ticketcache fingerprint --page-size 20 page=2 search=vpn`,
	RunE: runFingerprint,
}

var flagPageSize int

func init() {
	fingerprintCmd.Flags().IntVar(&flagPageSize, "page-size", 12, "default page size of the client")
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	q, err := parseFilterArgs(args)
	if err != nil {
		return err
	}
	fp := fingerprint.New(flagPageSize)
	spec, err := fp.Parse(q)
	if err != nil {
		return err
	}
	key, err := fp.Encode(spec)
	if err != nil {
		return err
	}
	qs, err := fp.QueryString(spec)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fingerprint: %q\n", key)
	fmt.Fprintf(out, "query:       %s\n", qs)
	return nil
}

// parseFilterArgs turns key=value words into query values. Values may contain
// spaces when quoted by the shell.
func parseFilterArgs(args []string) (url.Values, error) {
	q := url.Values{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		q.Set(k, v)
	}
	return q, nil
}
