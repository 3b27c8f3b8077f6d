package main

import (
	"context"
	"encoding/hex"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cardbridge/internal/filter"
	"github.com/dgnsrekt/cardbridge/internal/link"
)

func probeCmd() *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect once to the reader and dump raw chunks",
		Long: `Probe opens a single connection to the card reader and logs every raw
read as hex, together with the normalized candidate the bridge would see.
Use it to check how a reader frames scans before running the bridge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			linkCfg := cfg.Link()
			dialer := &net.Dialer{
				Timeout:   linkCfg.DialTimeout,
				KeepAlive: linkCfg.KeepAlive,
			}

			logger.Info("probing reader",
				zap.String("reader", linkCfg.Addr()),
				zap.Int("count", count),
				zap.Duration("timeout", timeout),
			)

			seen := 0
			err := link.Probe(ctx, dialer, linkCfg.Addr(), count, func(chunk []byte) {
				seen++
				candidate := filter.Normalize(chunk)
				logger.Info("chunk",
					zap.Int("seq", seen),
					zap.Int("bytes", len(chunk)),
					zap.String("hex", hex.EncodeToString(chunk)),
					zap.String("candidate", candidate),
					zap.Bool("sentinel", filter.IsSentinel(candidate)),
				)
			})

			logger.Info("probe finished", zap.Int("chunks", seen))
			return err
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many chunks (0 = until closed)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "stop after this long (0 = no limit)")

	return cmd
}
