package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"docqa/internal/chromemdb"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/db"
	"docqa/internal/helper"
	"docqa/internal/imageproc"
	"docqa/internal/llmservice"
	"docqa/internal/parser"
	"docqa/internal/rag"
	"docqa/internal/server"
)

var (
	configFilePath string
	cfg            *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about PDF documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configFilePath)
			if err != nil {
				helper.SetupLogging("info", true)
				log.Error().Err(err).Msg("Error loading config")
				return err
			}
			helper.SetupLogging(cfg.Log.Level, cfg.Log.Console)
			log.Debug().Interface("config", cfg).Msg("Loaded config")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFilePath, "config", "", "Path to the yaml config file")

	root.AddCommand(newServeCmd(), newAskCmd(), newImagesCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var uploadDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question form",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, closeSession, err := newSession(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("Error initializing session")
				return err
			}
			defer closeSession()

			srv, err := server.New(cfg, session, uploadDir)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&uploadDir, "upload-dir", filepath.Join(os.TempDir(), "docqa-uploads"), "Directory for uploaded documents")
	return cmd
}

func newAskCmd() *cobra.Command {
	var filePath, query string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ingest one document and answer one question",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session, closeSession, err := newSession(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("Error initializing session")
				return err
			}
			defer closeSession()

			if _, err := session.ProcessDocument(ctx, filePath); err != nil {
				return err
			}
			response := session.Respond(ctx, query)

			out := cmd.OutOrStdout()
			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", response.Query)

			log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", response.Source)

			log.Info().Bool("multimodal", response.Multimodal).Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", response.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Path to the document file")
	cmd.Flags().StringVar(&query, "query", "", "Question to be answered")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newImagesCmd() *cobra.Command {
	var filePath, outDir string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Extract and save the processed images of a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			processor := imageproc.NewProcessor(cfg)
			images, err := processor.ExtractImages(cmd.Context(), filePath)
			if err != nil {
				return err
			}

			saved := make([]string, 0, len(images))
			for i, img := range images {
				name := fmt.Sprintf("page_%d_image_%d.%s", img.Page, i+1, img.Format)
				path, err := processor.SaveProcessedImage(img, filepath.Join(outDir, name))
				if err != nil {
					return err
				}
				saved = append(saved, path)
			}

			helper.PrettyPrint(cmd.OutOrStdout(), map[string]any{
				"images": images,
				"saved":  saved,
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Path to the PDF file")
	cmd.Flags().StringVar(&outDir, "out", "images", "Output directory")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type closer interface {
	Close() error
}

// newSession wires every component of the pipeline from cfg
func newSession(ctx context.Context, cfg *config.Config) (*rag.RAG, func(), error) {
	c, err := chunker.New(cfg.Processing)
	if err != nil {
		return nil, nil, err
	}

	manager, err := llmservice.NewManager(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		index rag.Index
		store closer
	)
	switch cfg.Index.Backend {
	case config.BackendPGVector:
		vs, err := db.NewVectorStore(ctx, cfg.Index)
		if err != nil {
			manager.Close()
			return nil, nil, err
		}
		index, store = vs, vs
	default:
		if err := helper.CreateFolder(cfg.Index.Dir); err != nil {
			manager.Close()
			return nil, nil, err
		}
		vm, err := chromemdb.NewVectorDBManager(cfg.Index, false)
		if err != nil {
			manager.Close()
			return nil, nil, err
		}
		index, store = vm, vm
	}

	session := rag.NewRAG(parser.NewExtractor(cfg), imageproc.NewProcessor(cfg), c, manager, index, cfg)
	closeAll := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing index")
		}
		if err := manager.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing models")
		}
	}
	return session, closeAll, nil
}
