package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/server"
	"github.com/docqa-ai/docqa-go/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing the tenant, document, and chat APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes a REST API for tenant management, document upload,
ingestion, and retrieval-grounded chat, plus health, readiness, and
Prometheus metrics endpoints.

Examples:
  docqa serve
  docqa serve --port 9090
  MODEL_PROVIDER=azure docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			st, closeStores, err := openStores(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeStores()

			pipeline, emb, err := buildPipeline(st, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			ans, err := buildAnswerer(st, emb)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			hist, closeHistory, err := openHistory(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeHistory()

			srv, err := server.New(st.meta, st.vectors, pipeline, ans, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewMetadataPinger(st.meta),
					server.NewVectorStorePinger(st.vectors),
				},
				APIKey:         os.Getenv("DOCQA_API_KEY"),
				UploadsDir:     st.uploadsDir,
				MaxUploadBytes: int64(getEnvInt("DOCQA_MAX_FILE_SIZE_MB", 50)) << 20,
				MaxDocuments:   getEnvInt("DOCQA_MAX_FILES_PER_TENANT", 10),
				History:        hist,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
