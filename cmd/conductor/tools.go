package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	srv "github.com/mohammad-safakhou/conductor/internal/server"
	"github.com/mohammad-safakhou/conductor/internal/telemetry"
	"github.com/mohammad-safakhou/conductor/internal/tools"
)

func toolsCMD() *cobra.Command {
	var cfgPath string
	var corpusDir string
	var addr string

	var toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "Serve the remote tool endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			tel, _, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
				ServiceName:    "conductor-tools",
				ServiceVersion: "dev",
			})
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			logger := log.New(os.Stderr, "[TOOLSRV] ", log.LstdFlags)
			cache := retrieval.NewCache(cfg.Retrieval, cfg.Storage.Redis, logger)
			engine := retrieval.NewEngine(cfg.Retrieval, retrieval.WithCache(cache))
			docs, err := loadCorpus(corpusDir)
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				if err := engine.Index(ctx, docs); err != nil {
					return err
				}
			}

			if addr != "" {
				cfg.Server.Address = addr
			}
			shell := tools.NewShellTool(cfg.Tools.ShellAllowed)
			return srv.New(cfg.Server, engine, shell, logger).Run()
		},
	}
	toolsCmd.Flags().StringVar(&corpusDir, "corpus", "", "directory of .txt/.md documents to index")
	toolsCmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8089)")
	toolsCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return toolsCmd
}
