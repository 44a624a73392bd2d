package cli

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stelliform/go-oracled/internal/core/oracle"
	"github.com/stelliform/go-oracled/internal/storage/archive"
	"github.com/stelliform/go-oracled/internal/storage/kv"
)

var (
	exportDriver string
	exportDSN    string
)

// exportCmd backfills the SQL archive from the records still held in
// the key-value store.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Backfill the SQL archive from the local store",
	Long: `Walk the stored price history, newest first, and mirror every
still-live record into the configured SQL archive. Records whose TTL
already expired are skipped. The daemon must not be running against
the same data directory.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDriver, "driver", "", "archive driver (overrides config)")
	exportCmd.Flags().StringVar(&exportDSN, "dsn", "", "archive DSN (overrides config)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	driver, dsn := cfg.Archive.Driver, cfg.Archive.DSN
	if exportDriver != "" {
		driver = exportDriver
	}
	if exportDSN != "" {
		dsn = exportDSN
	}
	if dsn == "" {
		return fmt.Errorf("no archive DSN configured (set archive.dsn or --dsn)")
	}

	ctx := context.Background()

	store, err := kv.Open(cfg.Node.Backend, kv.Options{
		Path:       filepath.Join(cfg.Node.DataDir, "store"),
		Compressor: cfg.Node.Compression,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	arch, err := archive.Open(driver, dsn, logger)
	if err != nil {
		return err
	}
	defer arch.Close()

	engine := oracle.New(store)
	assets, err := engine.Assets(ctx)
	if err != nil {
		return err
	}

	exported := 0
	err = engine.ForEachRecord(ctx, func(tsMs uint64, record *oracle.PriceUpdate) error {
		event := oracle.UpdateEvent{Timestamp: tsMs}
		record.Each(func(index uint32, price *big.Int) {
			if price.Sign() == 0 || int(index) >= len(assets) {
				return
			}
			event.Prices = append(event.Prices, oracle.AssetPrice{
				Asset: assets[index],
				Price: price,
			})
		})
		if len(event.Prices) == 0 {
			return nil
		}
		if err := arch.Store(ctx, event); err != nil {
			return err
		}
		exported++
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("export complete", zap.Int("periods", exported))
	fmt.Printf("Exported %d periods to %s archive\n", exported, driver)
	return nil
}
