package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/config"
	"alfredoptarigan/cv-screening/internal/services"
)

const app = "ingest-documents"

var (
	// Used for flags.
	referenceDir string
	force        bool
	resetOnly    bool
	debug        bool
	jsonLogs     bool

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "Load reference documents (job descriptions, case study briefs, scoring rubrics) into the vector store",
		Long: `Each first-level directory under --dir is a job title. Files inside it are classified by name:
*description* or *jd* is the job description, *case* or *brief* is the case study brief,
*rubric* or *scoring* is the scoring rubric. PDF, DOCX, TXT and MD files are supported.

Ingestion is skipped when the collection already holds documents unless --force is given.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&referenceDir, "dir", "", "reference documents directory (default REFERENCE_DOCS_DIR)")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "clear the collection and ingest again")
	rootCmd.Flags().BoolVar(&resetOnly, "reset", false, "clear the collection without ingesting")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "verbose/debug output")
	rootCmd.Flags().BoolVarP(&jsonLogs, "json", "j", false, "json format for logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()

	logger, err := config.NewLogger(jsonLogs || cfg.Log.JSON, debug || cfg.Log.Debug)
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("🚀 Starting document ingestion...")

	geminiService, err := services.NewGeminiService(ctx, services.GeminiOptions{
		APIKey:           cfg.Gemini.APIKey,
		Model:            cfg.Gemini.Model,
		EmbeddingModel:   cfg.Gemini.EmbeddingModel,
		CallTimeout:      cfg.Gemini.CallTimeout,
		BreakerThreshold: cfg.Gemini.BreakerThreshold,
		BreakerCooldown:  cfg.Gemini.BreakerCooldown,
	}, logger.Named("gemini"))
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini: %w", err)
	}

	qdrantService, err := services.NewQdrantService(
		cfg.Qdrant.URL,
		cfg.Qdrant.APIKey,
		cfg.Qdrant.Collection,
		cfg.Qdrant.VectorSize,
		logger.Named("qdrant"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Qdrant: %w", err)
	}

	refStore := services.NewReferenceStore(qdrantService, geminiService, services.NewTextExtractor(), logger.Named("reference"))
	if err := refStore.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize collection: %w", err)
	}

	if resetOnly {
		if err := refStore.Reset(ctx); err != nil {
			return err
		}
		logger.Info("✅ Reference collection cleared", zap.String("collection", cfg.Qdrant.Collection))
		return nil
	}

	dir := referenceDir
	if dir == "" {
		dir = cfg.Storage.ReferenceDocsDir
	}

	report, err := refStore.Ingest(ctx, dir, force)
	if err != nil {
		logger.Error("❌ Ingestion failed", zap.String("dir", dir), zap.Error(err))
		return err
	}

	if report.AlreadyPopulated {
		logger.Info("ℹ️  Collection already populated, nothing to do. Use --force to re-ingest.")
		return nil
	}

	logger.Info(strings.Repeat("=", 60))
	logger.Info("📊 Ingestion Summary",
		zap.Strings("job_titles", report.Titles),
		zap.Int("documents", report.Documents),
		zap.Int("skipped", report.Skipped),
	)
	logger.Info(strings.Repeat("=", 60))

	if report.Documents == 0 {
		return fmt.Errorf("no reference documents ingested from %s", dir)
	}
	if report.Skipped > 0 {
		logger.Warn("⚠️  Some files were skipped. Please check the logs above.")
	}

	logger.Info("✅ Document ingestion finished")
	return nil
}
