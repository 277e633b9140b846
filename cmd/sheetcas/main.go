// Command sheetcas serves the range verification API and fingerprints local workbooks.
//
//	sheetcas serve --config sheetcas.yaml
//	sheetcas fingerprint --dir ./books --spreadsheet budget --range 'Sheet1!A1:D20'
//	sheetcas verify --dir ./books --spreadsheet budget --fingerprint '<json>'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raysh454/sheetcas/internal/app"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/server"
	"github.com/raysh454/sheetcas/internal/sheets"
	"github.com/raysh454/sheetcas/internal/snapshot"
)

// errStale marks a verify run whose range no longer matches.
var errStale = errors.New("range is stale")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sheetcas",
		Short:        "Content-addressed range verification and undoable writes for spreadsheets",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to a YAML config file (defaults apply when omitted)")

	fingerprintCmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Fingerprint a range of a local .xlsx workbook",
		RunE:  runFingerprint,
	}
	addWorkbookFlags(fingerprintCmd)
	fingerprintCmd.Flags().String("range", "", "A1 range to fingerprint")
	_ = fingerprintCmd.MarkFlagRequired("range")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a fingerprint against a local .xlsx workbook; exits 1 when stale",
		RunE:  runVerify,
	}
	addWorkbookFlags(verifyCmd)
	verifyCmd.Flags().String("fingerprint", "", "Fingerprint JSON as printed by the fingerprint command")
	_ = verifyCmd.MarkFlagRequired("fingerprint")

	rootCmd.AddCommand(serveCmd, fingerprintCmd, verifyCmd)
	return rootCmd
}

func addWorkbookFlags(cmd *cobra.Command) {
	cmd.Flags().String("dir", ".", "Directory holding <spreadsheet>.xlsx files")
	cmd.Flags().String("spreadsheet", "", "Workbook name without the .xlsx extension")
	cmd.Flags().Int("edge-rows", fingerprint.DefaultEdgeRows, "Rows sampled from each edge of the range")
	cmd.Flags().Bool("formats", false, "Include cell formats in the fingerprint")
	_ = cmd.MarkFlagRequired("spreadsheet")
}

type workbook struct {
	orch          *snapshot.Orchestrator
	spreadsheetID string
	opts          snapshot.Options
}

func openWorkbook(cmd *cobra.Command) (*workbook, error) {
	dir, _ := cmd.Flags().GetString("dir")
	id, _ := cmd.Flags().GetString("spreadsheet")
	edgeRows, _ := cmd.Flags().GetInt("edge-rows")
	formats, _ := cmd.Flags().GetBool("formats")
	if edgeRows <= 0 {
		return nil, fmt.Errorf("--edge-rows must be positive, got %d", edgeRows)
	}

	logger := logging.NewLogger(cmd.ErrOrStderr(), "sheetcas", logging.LevelWarn)
	backend, err := sheets.NewXLSXBackend(dir, logger)
	if err != nil {
		return nil, err
	}
	return &workbook{
		orch:          snapshot.New(backend, logger, nil, snapshot.Config{EdgeRows: edgeRows}),
		spreadsheetID: id,
		opts:          snapshot.Options{EdgeRows: edgeRows, IncludeFormats: formats},
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	wb, err := openWorkbook(cmd)
	if err != nil {
		return err
	}
	rangeA1, _ := cmd.Flags().GetString("range")
	fp, err := wb.orch.FingerprintRange(cmd.Context(), wb.spreadsheetID, rangeA1, wb.opts)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), fp)
}

func runVerify(cmd *cobra.Command, args []string) error {
	wb, err := openWorkbook(cmd)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetString("fingerprint")
	var before fingerprint.Fingerprint
	if err := json.Unmarshal([]byte(raw), &before); err != nil {
		return fmt.Errorf("parse --fingerprint: %w", err)
	}
	if before.Range == "" {
		return errors.New("--fingerprint has no range")
	}

	res, err := wb.orch.Verify(cmd.Context(), wb.spreadsheetID, before, wb.opts)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%w: %s", errStale, res.Reason)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := app.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := logging.NewLogger(os.Stdout, "sheetcas", logging.ParseLevel(cfg.LogLevel))
	a, err := app.NewApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	srv, err := server.NewServer(a.Service, server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		ReadTimeout: cfg.Server.ReadTimeout,
		Logger:      logger.With(logging.Field{Key: "component", Value: "server"}),
		Gatherer:    a.Registry,
	})
	if err != nil {
		return err
	}
	httpSrv := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: httpSrv.Addr})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}
