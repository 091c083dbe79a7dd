package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toricodesthings/document-ingestion-service/internal/backend"
	"github.com/toricodesthings/document-ingestion-service/internal/config"
	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/toricodesthings/document-ingestion-service/internal/extractors"
	"github.com/toricodesthings/document-ingestion-service/internal/ingest"
	"github.com/toricodesthings/document-ingestion-service/internal/logging"
)

var Version = "dev"

var errSomeFailed = errors.New("one or more files failed")

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "ingestctl",
		Short:         "Extract plain text from .txt, .pdf, .xlsx and .docx files and upload it",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log extraction details to stderr")

	env := func(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
		cfg, err := config.Load()
		if err != nil {
			return config.Config{}, nil, err
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		return cfg, logging.New(level, "text", cmd.ErrOrStderr()), nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ingestctl %s\n", Version)
		},
	})
	root.AddCommand(newPreviewCmd(env))
	root.AddCommand(newUploadCmd(env))
	return root
}

type envFunc func(cmd *cobra.Command) (config.Config, *slog.Logger, error)

func newPreviewCmd(env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file>...",
		Short: "Print the normalized text of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env(cmd)
			if err != nil {
				return err
			}
			router := extract.NewRouter(extractors.NewRegistry(cfg, logger), logger)
			out := cmd.OutOrStdout()

			failed := false
			for _, path := range args {
				name := filepath.Base(path)
				text, err := previewFile(cmd.Context(), router, path)
				if err != nil {
					failed = true
					fmt.Fprintf(out, "== %s ==\nerror: %s\n", name, err)
					continue
				}
				fmt.Fprintf(out, "== %s ==\n%s\n", name, text)
			}
			if failed {
				return errSomeFailed
			}
			return nil
		},
	}
}

func previewFile(ctx context.Context, router *extract.Router, path string) (string, error) {
	c, err := fileCandidate(path)
	if err != nil {
		return "", err
	}
	outcome := extract.Classify(c.Name, c.Size)
	if !outcome.Accepted() {
		return "", outcome.Err
	}
	rc, err := c.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	content, err := extract.ReadLimited(rc, extract.MaxFileBytes)
	if err != nil {
		return "", err
	}
	res, err := router.ExtractKind(ctx, outcome.Kind, c.Name, content)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func newUploadCmd(env envFunc) *cobra.Command {
	var backendURL, token string

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Extract each file and upload its text to the backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(token) == "" {
				token = os.Getenv("BACKEND_TOKEN")
			}
			if strings.TrimSpace(token) == "" {
				return errors.New("--token or BACKEND_TOKEN required")
			}
			if backendURL == "" {
				backendURL = cfg.BackendURL
			}

			client := backend.NewClient(backend.Options{
				BaseURL:   backendURL,
				Timeout:   cfg.BackendTimeout,
				RateEvery: cfg.BackendRateEvery,
				RateBurst: cfg.BackendRateBurst,
			})
			s := ingest.NewSession("cli", ingest.Options{
				Extractor:          extract.NewRouter(extractors.NewRegistry(cfg, logger), logger),
				Transport:          backend.NewTransport(client, token),
				Logger:             logger,
				MaxExtractWorkers:  cfg.MaxExtractWorkers,
				MaxTransferWorkers: cfg.MaxTransferWorkers,
				ProgressTick:       cfg.ProgressTick,
				ProgressStep:       cfg.ProgressStep,
			})
			defer s.Close()

			candidates := make([]ingest.Candidate, 0, len(args))
			for _, path := range args {
				c, err := fileCandidate(path)
				if err != nil {
					return err
				}
				candidates = append(candidates, c)
			}
			if err := s.AddFiles(cmd.Context(), candidates); err != nil {
				return err
			}
			s.Wait()
			// A completed batch resets the session, so intake errors are read first.
			intake := s.Snapshot()

			summary, err := s.BeginTransfer(cmd.Context())
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), summary, intake, candidates)
		},
	}
	cmd.Flags().StringVar(&backendURL, "backend", "", "Backend base URL (default from BACKEND_URL)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for the backend (default from BACKEND_TOKEN)")
	return cmd
}

// report prints one line per file. intake errors cover files that never
// reached the transfer stage.
func report(w io.Writer, summary ingest.TransferSummary, intake ingest.Snapshot, candidates []ingest.Candidate) error {
	uploaded := make(map[string]bool, len(summary.Uploaded))
	for _, name := range summary.Uploaded {
		uploaded[name] = true
	}
	failed := make(map[string]string, len(summary.Failed))
	for _, f := range summary.Failed {
		failed[f.FileName] = f.Error()
	}

	ok := true
	for _, c := range candidates {
		switch {
		case uploaded[c.Name]:
			fmt.Fprintf(w, "ok      %s\n", c.Name)
		case failed[c.Name] != "":
			ok = false
			fmt.Fprintf(w, "failed  %s: %s\n", c.Name, failed[c.Name])
		case intake.Errors[c.Name] != "":
			ok = false
			fmt.Fprintf(w, "failed  %s: %s\n", c.Name, intake.Errors[c.Name])
		default:
			ok = false
			fmt.Fprintf(w, "skipped %s\n", c.Name)
		}
	}
	if !ok {
		return errSomeFailed
	}
	return nil
}

func fileCandidate(path string) (ingest.Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ingest.Candidate{}, err
	}
	if info.IsDir() {
		return ingest.Candidate{}, fmt.Errorf("%s is a directory", path)
	}
	return ingest.Candidate{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}
