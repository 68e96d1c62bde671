// Package main provides the rice-eval binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pkg/middleware"
	"github.com/ricesearch/rice-eval/internal/qdrant"
	"github.com/ricesearch/rice-eval/internal/sink"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rice-eval",
		Short: "Retrieval evaluation with synthesized queries and model-judged relevance",
		Long: `rice-eval measures how well a retrieval configuration ranks documents.

It synthesizes a search query per document with a language model, runs the
query against a search backend, fuses per-signal scores into one ranking,
asks the model to judge each ranked document, and reports NDCG, precision,
recall and MRR per query.

Run 'rice-eval run --input docs.jsonl' to evaluate a document file.
Run 'rice-eval serve' to expose evaluation over HTTP.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		generateCmd(),
		judgeCmd(),
		runCmd(),
		indexCmd(),
		serveCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize one search query per document",
		Long: `Reads document records (JSON lines with id, title and body) and writes
each record back with a synthesized query. Documents whose answers stay
unusable after retries are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			limit, _ := cmd.Flags().GetInt("limit")
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Synth.Limit
			}

			docs, err := readDocuments(input)
			if err != nil {
				return err
			}
			s, err := a.synthesizer()
			if err != nil {
				return err
			}

			w, err := sink.OpenJSONL(output)
			if err != nil {
				return err
			}
			defer w.Close()

			n, err := s.GenerateAndSave(cmd.Context(), docs, limit, w)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d queries to %s\n", n, output)
			return err
		},
	}

	cmd.Flags().StringP("input", "i", "", "document records (JSON lines)")
	cmd.Flags().StringP("output", "o", "queries.jsonl", "output records (JSON lines)")
	cmd.Flags().Int("limit", 0, "documents to process (default from config, 0 = all)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func judgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Judge the relevance of documents to a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			query, _ := cmd.Flags().GetString("query")
			input, _ := cmd.Flags().GetString("input")

			docs, err := readDocuments(input)
			if err != nil {
				return err
			}
			j, err := a.judge()
			if err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}

			judgments, err := j.JudgeAll(cmd.Context(), query, docs)
			if st != nil {
				for _, jg := range judgments {
					if perr := st.Put(cmd.Context(), jg); perr != nil {
						a.log.Warn("failed to store judgment", "document_id", jg.DocumentID, "error", perr.Error())
					}
				}
			}
			if encErr := writeOutput(cmd, judgments); encErr != nil {
				return encErr
			}
			return err
		},
	}

	cmd.Flags().StringP("query", "q", "", "query text")
	cmd.Flags().StringP("input", "i", "", "document records (JSON lines)")
	_ = cmd.MarkFlagRequired("query")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation over a document file",
		Long: `Evaluates every document record in the input. Records without a query
get one synthesized unless --titles is set, in which case the title is the
query. Metrics are written to the configured table sink and the run is
printed as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			input, _ := cmd.Flags().GetString("input")
			titles, _ := cmd.Flags().GetBool("titles")
			if model, _ := cmd.Flags().GetString("model"); model != "" {
				a.cfg.Eval.ModelName = model
			}

			records, err := sink.ReadJSONLFile[corpus.Record](input)
			if err != nil {
				return err
			}
			tasks := evaluation.TasksFromRecords(records)
			variant := evaluation.VariantLLMQuery
			if titles {
				docs := make([]corpus.Document, len(records))
				for i, r := range records {
					docs[i] = r.Document()
				}
				tasks = evaluation.TitleTasks(docs)
				variant = evaluation.VariantTitleQuery
			}

			if strict, _ := cmd.Flags().GetBool("strict-model"); strict {
				if err := evaluation.DefaultCatalogue().Check(variant, a.cfg.Eval.ModelName); err != nil {
					return err
				}
			}

			o, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			run, err := o.Run(cmd.Context(), tasks)
			if run != nil {
				if encErr := writeOutput(cmd, run); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().StringP("input", "i", "", "document records (JSON lines)")
	cmd.Flags().Bool("titles", false, "use document titles as queries")
	cmd.Flags().StringP("model", "m", "", "model configuration name (overrides config)")
	cmd.Flags().Bool("strict-model", false, "require the model name to be in the catalogue for the query variant")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index documents into the Qdrant collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			input, _ := cmd.Flags().GetString("input")
			batch, _ := cmd.Flags().GetInt("batch-size")

			docs, err := readDocuments(input)
			if err != nil {
				return err
			}
			b, err := a.qdrantBackend()
			if err != nil {
				return err
			}
			n, err := b.Index(cmd.Context(), docs, batch)
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents into %s\n", n, a.cfg.Qdrant.Collection)
			return err
		},
	}

	cmd.Flags().StringP("input", "i", "", "document records (JSON lines)")
	cmd.Flags().Int("batch-size", qdrant.DefaultBatchSize, "documents per upsert")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluation over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			if host, _ := cmd.Flags().GetString("host"); cmd.Flags().Changed("host") {
				a.cfg.Host = host
			}

			ctx := cmd.Context()
			o, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			j, err := a.judge()
			if err != nil {
				return err
			}
			s, err := a.synthesizer()
			if err != nil {
				return err
			}
			st, err := a.store(ctx)
			if err != nil {
				return err
			}

			events, err := a.events()
			if err != nil {
				return err
			}
			progress := evaluation.NewProgress()
			if err := progress.Subscribe(ctx, events); err != nil {
				return err
			}

			h := evaluation.NewHandler(o, j, s, st).WithProgress(progress).WithBaseContext(ctx)
			defer h.Wait()
			mux := http.NewServeMux()
			h.RegisterRoutes(mux)
			if a.cfg.Metrics.Enabled {
				mux.Handle("GET "+a.cfg.Metrics.Path, a.metrics.Handler())
			}

			var handler http.Handler = mux
			if a.cfg.RateLimit > 0 {
				rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
					RequestsPerSecond: a.cfg.RateLimit,
					Burst:             a.cfg.RateBurst,
					CleanupInterval:   time.Minute,
				})
				defer rl.Close()
				handler = rl.Middleware(handler, http.MethodPost)
			}
			handler = metrics.HTTPMiddleware(a.metrics, handler)
			handler = middleware.Recovery(middleware.Logging(handler, a.log), a.log)

			srv := &http.Server{
				Addr:        a.cfg.Address(),
				Handler:     handler,
				ReadTimeout: 30 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("starting HTTP server", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("HTTP shutdown error", "error", err)
				return err
			}
			a.log.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntP("port", "p", 8090, "HTTP server port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rice-eval %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

func readDocuments(path string) ([]corpus.Document, error) {
	records, err := sink.ReadJSONLFile[corpus.Record](path)
	if err != nil {
		return nil, err
	}
	docs := make([]corpus.Document, len(records))
	for i, r := range records {
		docs[i] = r.Document()
	}
	return docs, nil
}

func writeOutput(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
