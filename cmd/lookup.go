package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/Ashfaaq98/assetintel/internal/observable"
	"github.com/Ashfaaq98/assetintel/internal/store"
	"github.com/spf13/cobra"
)

var lookupFile string

// lookupCmd runs one batch lookup and prints the results as JSON.
var lookupCmd = &cobra.Command{
	Use:   "lookup [value...]",
	Short: "Look up IPs, domains and CVEs against the asset inventory",
	Long: `Look up one batch of observables. Values come from the arguments and/or
--file (one per line, "-" for stdin). Each value is typed automatically as an
IPv4 address, domain or CVE id; anything else is reported but not queried.

Results are printed as a JSON array in input order. An observable with no
matching assets has "data": null.

Examples:
  assetintel lookup 10.0.0.5 db01.corp.example.com CVE-2021-44228
  cat iocs.txt | assetintel lookup --file -
  assetintel lookup --failure-policy isolate --history-db ./data/history.db 8.8.8.8`,
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().StringVarP(&lookupFile, "file", "f", "", "Read values from a file, one per line (\"-\" for stdin)")
}

type lookupOutput struct {
	Entity lookup.Observable `json:"entity"`
	Data   *lookup.Data      `json:"data"`
	Error  *outputError      `json:"error,omitempty"`
}

type outputError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Hint   string `json:"hint,omitempty"`
}

func runLookup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger("lookup")

	values := append([]string{}, args...)
	if lookupFile != "" {
		fileValues, err := readValues(lookupFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		values = append(values, fileValues...)
	}
	observables := observable.ParseAll(values)
	if len(observables) == 0 {
		return errors.New("no observables given")
	}

	opts := cfg.Lookup.Options()
	if errs := lookup.ValidateOptions(opts); len(errs) > 0 {
		return lookup.ValidationError(errs)
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	started := time.Now()
	results, lookupErr := rt.engine.DoLookup(ctx, observables, opts)

	if rt.history != nil {
		b := store.NewBatch("cli", opts.BaseURL, observables, results, lookupErr, started)
		if id, err := rt.history.SaveBatch(ctx, b); err != nil {
			logger.Printf("Failed to record lookup history: %v", err)
		} else if debugEnabled(cfg) {
			logger.Printf("Recorded batch %s", id)
		}
	}

	if lookupErr != nil {
		if h, ok := lookupErr.(interface{ Hint() string }); ok {
			fmt.Fprintln(cmd.ErrOrStderr(), h.Hint())
		}
		return lookupErr
	}

	out := make([]lookupOutput, 0, len(results))
	for _, r := range results {
		o := lookupOutput{Entity: r.Observable, Data: r.Data}
		if r.Err != nil {
			o.Error = describeResultError(r.Err)
		}
		out = append(out, o)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func describeResultError(err error) *outputError {
	var be *lookup.BatchError
	if errors.As(err, &be) {
		return &outputError{Kind: string(be.Kind), Detail: be.Detail, Hint: be.Hint()}
	}
	return &outputError{Kind: string(lookup.KindUnclassified), Detail: err.Error()}
}

func readValues(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var values []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	return values, nil
}
