package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newFetchCmd creates the 'fetch' subcommand, which runs one batch and prints it as JSON.
func newFetchCmd() *cobra.Command {
	var (
		parallel int
		input    string
		pretty   bool
	)
	cmd := &cobra.Command{
		Use:   "fetch [urls...]",
		Short: "Fetch one or more URLs and print the batch as JSON",
		Long: `Fetches every URL given as an argument or listed in --input (one per line,
'#' starts a comment, '-' reads stdin) and writes the results, in input order,
together with the resource-budget snapshot to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls := append([]string(nil), args...)
			if input != "" {
				fromFile, err := readURLList(cmd.InOrStdin(), input)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("no urls given: pass them as arguments or with --input")
			}
			if parallel <= 0 {
				parallel = appInstance.Config().Fetch.MaxParallel
			}

			batch := appInstance.Fetch(cmd.Context(), urls, parallel)
			appInstance.Logger().Debug("fetch command finished", zap.Int("urls", len(urls)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(batch); err != nil {
				return fmt.Errorf("encode batch: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "maximum URLs fetched concurrently (default from config)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "file with one URL per line ('-' for stdin)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

func readURLList(stdin io.Reader, path string) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url list: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}
