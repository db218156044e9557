// Command breakoutd replays a CSV bar history through the breakout-retest
// engine: one synchronous ProcessBar call per bar, exactly like the tick
// callback of a live deployment drives it.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasoncarty/breakout-engine/config"
	"github.com/jasoncarty/breakout-engine/executor"
	"github.com/jasoncarty/breakout-engine/feed"
	"github.com/jasoncarty/breakout-engine/logger"
	"github.com/jasoncarty/breakout-engine/oracle"
	"github.com/jasoncarty/breakout-engine/recorder"
	"github.com/jasoncarty/breakout-engine/strategy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "breakoutd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config.yaml", "path to YAML configuration")
	csvPath := flag.String("bars", "", "CSV bar file (overrides feed.csv_path)")
	flag.Parse()

	_ = godotenv.Load() // a missing .env is fine

	cfg, err := config.LoadWithEnv(*cfgPath)
	if err != nil {
		return err
	}
	if *csvPath != "" {
		cfg.Feed.CSVPath = *csvPath
	}
	if cfg.Feed.CSVPath == "" {
		return fmt.Errorf("no bar source: set feed.csv_path or -bars")
	}

	log, err := logger.NewZapLogger()
	if err != nil {
		return err
	}

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Recorder.Path != "" {
		sq, err := recorder.NewSQLiteRecorder(cfg.Recorder.Path)
		if err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		defer sq.Close()
		rec = sq
		log.Info("recorder_opened", logger.String("path", cfg.Recorder.Path))
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("metrics_server_failed", logger.Err(err))
			}
		}()
		log.Info("metrics_listening", logger.String("addr", cfg.Metrics.Addr))
	}

	pred := oracle.NewClient(cfg.Oracle.URL, cfg.OracleTimeout(), log)
	exec := executor.NewPaperExecutor(cfg.Executor.StartEquity)

	st, err := strategy.NewBreakoutRetest(cfg.Strategy.Symbol, cfg.Strategy, exec, pred, rec, log)
	if err != nil {
		return err
	}

	bars, err := feed.LoadCSV(cfg.Feed.CSVPath)
	if err != nil {
		return err
	}
	log.Info("replay_started",
		logger.String("symbol", cfg.Strategy.Symbol),
		logger.Int("bars", len(bars)),
	)

	for _, b := range bars {
		st.ProcessBar(b)
	}

	qty, avg := exec.Position(cfg.Strategy.Symbol)
	log.Info("replay_finished",
		logger.Float64("equity", exec.Equity()),
		logger.Float64("open_qty", qty),
		logger.Float64("open_avg", avg),
		logger.Int("fills", len(exec.Fills())),
		logger.String("final_state", st.State().String()),
	)
	return nil
}
