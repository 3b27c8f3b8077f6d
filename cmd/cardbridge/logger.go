package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/cardbridge/internal/config"
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	if logCfg != nil {
		// Set log level from config; --verbose always means debug
		if logCfg.Level != "" && !verbose {
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
				zapConfig.Level = zap.NewAtomicLevelAt(level)
			}
		}

		switch logCfg.Format {
		case "console":
			zapConfig.Encoding = "console"
			zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		case "json":
			zapConfig.Encoding = "json"
		}
	}

	return zapConfig.Build()
}
