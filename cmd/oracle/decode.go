package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapOracle/internal/config"
	"swapOracle/internal/decoder"
	"swapOracle/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	body, err := os.ReadFile(cfg.In)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	events, err := decoder.NewHTLCDecoder(decoder.DecoderConfig{Contract: cfg.Contract, Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.Stringer("kind", cfg.Kind),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	result, err := decoder.New(events, nil, logger).Decode(body, cfg.Kind)
	if err != nil {
		return err
	}

	if err := storage.NewJSONLSink(cfg.Out).PutEvents(result.Events); err != nil {
		return err
	}
	if cfg.Errors != "" {
		if err := storage.NewJSONLSink(cfg.Errors).PutDecodeErrors(result.Errors); err != nil {
			return err
		}
	}

	logger.Info("decode complete",
		zap.Int("decoded", len(result.Events)),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Errors)),
	)

	return nil
}
