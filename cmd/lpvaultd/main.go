package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"path/filepath"

	"lpvault/config"
	"lpvault/core/events"
	"lpvault/crypto"
	"lpvault/native/oracle"
	"lpvault/native/poolshare"
	"lpvault/native/position"
	"lpvault/native/rangepos"
	"lpvault/native/token"
	"lpvault/native/vault"
	"lpvault/rpc"
	"lpvault/state"
	"lpvault/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	debtToken := token.NewToken(manager, cfg.TokenSymbol)

	ledgerAddr, err := resolveLedgerAddress(cfg.LedgerAddress)
	if err != nil {
		log.Fatalf("ledger address: %v", err)
	}

	ledger := vault.NewLedger(ledgerAddr, debtToken)
	ledger.SetState(manager)

	recorder := events.NewRecorder(0)
	ledger.SetEmitter(recorder)

	if err := registerSources(cfg, ledger, manager); err != nil {
		log.Fatalf("register sources: %v", err)
	}
	if err := manager.Commit(); err != nil {
		log.Fatalf("commit source registry: %v", err)
	}

	server := rpc.NewServer(ledger, manager, recorder)
	log.Printf("lpvaultd listening on %s (ledger %s, token %s)", cfg.RPCAddress, ledgerAddr, debtToken.Symbol())
	if err := http.ListenAndServe(cfg.RPCAddress, server.Router()); err != nil {
		log.Fatalf("serve rpc: %v", err)
	}
}

// registerSources builds a valuation engine per configured collateral source
// and binds it to the ledger. Sources already present in the database are
// rebound rather than re-added.
func registerSources(cfg *config.Config, ledger *vault.Ledger, manager *state.Manager) error {
	for _, sc := range cfg.PoolShareSources {
		source, err := crypto.DecodeAddress(sc.Address)
		if err != nil {
			return fmt.Errorf("poolshare source %q: %w", sc.Address, err)
		}
		stable, err := crypto.DecodeAddress(sc.StableToken)
		if err != nil {
			return fmt.Errorf("poolshare source %s stable token: %w", sc.Address, err)
		}
		volatile, err := crypto.DecodeAddress(sc.VolatileToken)
		if err != nil {
			return fmt.Errorf("poolshare source %s volatile token: %w", sc.Address, err)
		}
		ceiling, err := parseCeiling(sc.DebtCeiling)
		if err != nil {
			return fmt.Errorf("poolshare source %s: %w", sc.Address, err)
		}

		registry := position.NewMemRegistry()
		custody := position.NewCustody(manager, registry, source)
		pool := poolshare.NewManualPool(stable, volatile)
		shares := poolshare.NewManualShares()
		feed := oracle.NewManualFeed(sc.PriceDecimals)
		engine := poolshare.NewEngine(source, ledger, custody, pool, shares, feed, poolshare.Params{
			StableToken:             stable,
			VolatileToken:           volatile,
			StableDecimals:          sc.StableDecimals,
			VolatileDecimals:        sc.VolatileDecimals,
			MaxPriceAge:             cfg.Valuation.MaxPriceAge(),
			MaxDeviationBps:         cfg.Valuation.MaxDeviationBps,
			LiquidationThresholdBps: cfg.Valuation.LiquidationThresholdBps,
		})
		if err := bindSource(ledger, source, engine, ceiling); err != nil {
			return fmt.Errorf("poolshare source %s: %w", sc.Address, err)
		}
		log.Printf("registered pool-share source %s (ceiling %s)", source, ceiling)
	}

	for _, sc := range cfg.RangeSources {
		source, err := crypto.DecodeAddress(sc.Address)
		if err != nil {
			return fmt.Errorf("range source %q: %w", sc.Address, err)
		}
		volatile, err := crypto.DecodeAddress(sc.VolatileToken)
		if err != nil {
			return fmt.Errorf("range source %s volatile token: %w", sc.Address, err)
		}
		paired, err := crypto.DecodeAddress(sc.PairedToken)
		if err != nil {
			return fmt.Errorf("range source %s paired token: %w", sc.Address, err)
		}
		ceiling, err := parseCeiling(sc.DebtCeiling)
		if err != nil {
			return fmt.Errorf("range source %s: %w", sc.Address, err)
		}

		registry := position.NewMemRegistry()
		custody := position.NewCustody(manager, registry, source)
		pool := rangepos.NewManualPool(volatile, paired)
		positions := rangepos.NewManualPositions()
		feed := oracle.NewManualFeed(sc.PriceDecimals)
		twap := oracle.NewManualTWAP(sc.TwapDecimals)
		engine := rangepos.NewEngine(source, ledger, custody, pool, positions, feed, twap, rangepos.Params{
			VolatileToken:           volatile,
			PairedToken:             paired,
			VolatileDecimals:        sc.VolatileDecimals,
			PairedDecimals:          sc.PairedDecimals,
			MaxPriceAge:             cfg.Valuation.MaxPriceAge(),
			LoanToValueBps:          cfg.Valuation.LoanToValueBps,
			LiquidationThresholdBps: cfg.Valuation.LiquidationThresholdBps,
			TwapWindowSeconds:       cfg.Valuation.TwapWindowSeconds,
		})
		if err := bindSource(ledger, source, engine, ceiling); err != nil {
			return fmt.Errorf("range source %s: %w", sc.Address, err)
		}
		log.Printf("registered range-position source %s (ceiling %s)", source, ceiling)
	}
	return nil
}

// bindSource adds a fresh source, falling back to rebinding the handler when
// the source survived in the database from an earlier run.
func bindSource(ledger *vault.Ledger, source crypto.Address, handler vault.Handler, ceiling *big.Int) error {
	err := ledger.AddSource(source, handler, ceiling)
	if errors.Is(err, vault.ErrSourceExists) {
		return ledger.BindSource(source, handler)
	}
	return err
}

func parseCeiling(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	ceiling, ok := new(big.Int).SetString(raw, 10)
	if !ok || ceiling.Sign() < 0 {
		return nil, fmt.Errorf("invalid debt ceiling %q", raw)
	}
	return ceiling, nil
}

// resolveLedgerAddress decodes the configured ledger identity, generating a
// fresh one when the config leaves it unset. The identity participates in
// deposit-ID hashing, so restarting with a different address orphans existing
// records; operators should pin it in the config.
func resolveLedgerAddress(configured string) (crypto.Address, error) {
	if configured != "" {
		return crypto.DecodeAddress(configured)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	addr := key.PubKey().Address()
	log.Printf("no LedgerAddress configured, generated %s", addr)
	return addr, nil
}
