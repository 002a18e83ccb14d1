package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ironsheep/image-magick-mcp/internal/config"
	"github.com/ironsheep/image-magick-mcp/internal/logging"
	"github.com/ironsheep/image-magick-mcp/internal/magick"
	"github.com/ironsheep/image-magick-mcp/internal/server"
)

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "image-magick-mcp",
		Short: "MCP server for ImageMagick image editing",
		Long: `image-magick-mcp exposes a staged ImageMagick pipeline as MCP tools.

It communicates via MCP protocol over stdin/stdout. Configure it in your
MCP client and point magick.path at the directory holding convert and
composite. Settings come from --config, IMAGE_MCP_* environment variables
and a .env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, configFile)
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve MCP requests on stdin/stdout (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd, configFile)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Verify that ImageMagick can be run with the current config",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				tool, err := checkTool(cmd, cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ImageMagick OK: %s, %s\n", tool.ConvertPath(), tool.CompositePath())
				return nil
			},
		},
	)

	return cmd
}

// checkTool runs the one-time install check.
func checkTool(cmd *cobra.Command, cfg config.Config) (magick.Tool, error) {
	tool, err := magick.NewTool(cfg.Magick.Path, cfg.Magick.Convert, cfg.Magick.Composite)
	if err != nil {
		return magick.Tool{}, err
	}
	if err := tool.Check(cmd.Context(), magick.ExecRunner{}); err != nil {
		return magick.Tool{}, err
	}
	return tool, nil
}

func serve(cmd *cobra.Command, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Logging goes to stderr; stdout is for MCP protocol.
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting image-magick-mcp",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", GitCommit))

	tool, err := checkTool(cmd, cfg)
	if err != nil {
		logger.Error("imagemagick check failed", zap.Error(err))
		return err
	}

	scratch, err := magick.NewScratch(cfg.Scratch.Dir)
	if err != nil {
		return err
	}
	engine, err := magick.NewEngine(magick.Options{
		Tool:    tool,
		Scratch: scratch,
		Timeout: cfg.Magick.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Engine:  engine,
		Workers: cfg.Batch.Workers,
		Version: Version,
		Logger:  logger,
	})
	if err := srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("shutting down")
	return nil
}
