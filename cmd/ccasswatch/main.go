package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"ccasswatch/pkg/api"
	"ccasswatch/pkg/archive"
	"ccasswatch/pkg/config"
	"ccasswatch/pkg/export"
	"ccasswatch/pkg/hkex"
	"ccasswatch/pkg/logging"
	"ccasswatch/pkg/shareholding"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is built once per run from the global flags.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	archive *archive.Archive
}

func newApp(stdout io.Writer) *cli.App {
	e := &env{}

	outputFlags := []cli.Flag{
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json, csv or xlsx"},
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to `FILE` instead of stdout"},
	}
	stockFlag := &cli.StringFlag{Name: "stock", Aliases: []string{"s"}, Usage: "stock code, e.g. 00700"}
	today := shareholding.Day(time.Now())
	rangeFlags := []cli.Flag{
		stockFlag,
		&cli.StringFlag{Name: "start", Value: today.AddDate(0, 0, -7).Format(shareholding.DateLayout), Usage: "first day, YYYY-MM-DD"},
		&cli.StringFlag{Name: "end", Value: today.AddDate(0, 0, -1).Format(shareholding.DateLayout), Usage: "last day, YYYY-MM-DD"},
	}

	return &cli.App{
		Name:   "ccasswatch",
		Usage:  "CCASS shareholding trends and transactions from HKEXnews",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML config `FILE`"},
			&cli.StringFlag{Name: "archive", Usage: "also store results in this SQLite `FILE`"},
		},
		Before: func(c *cli.Context) error {
			return e.setup(c)
		},
		After: func(c *cli.Context) error {
			return e.close()
		},
		Commands: []*cli.Command{
			{
				Name:  "holdings",
				Usage: "holdings of one stock on one day",
				Flags: append([]cli.Flag{
					stockFlag,
					&cli.StringFlag{Name: "date", Value: today.AddDate(0, 0, -1).Format(shareholding.DateLayout), Usage: "YYYY-MM-DD"},
					&cli.IntFlag{Name: "top", Usage: "keep the first N rows, 0 for all"},
					&cli.StringSliceFlag{Name: "column", Usage: "column to keep, repeatable"},
					&cli.StringFlag{Name: "participant-id"},
					&cli.StringFlag{Name: "participant-name"},
				}, outputFlags...),
				Action: e.holdings,
			},
			{
				Name:   "trend",
				Usage:  "daily holdings of the top holders over a date range",
				Flags:  append(append([]cli.Flag{&cli.IntFlag{Name: "top", Usage: "number of holders, defaults to the configured top_n"}}, rangeFlags...), outputFlags...),
				Action: e.trend,
			},
			{
				Name:  "transactions",
				Usage: "day-over-day changes above a threshold",
				Flags: append(append([]cli.Flag{
					&cli.Float64Flag{Name: "threshold", Aliases: []string{"t"}, Usage: "percent, 1 means 1%; defaults to the configured threshold"},
				}, rangeFlags...), outputFlags...),
				Action: e.transactions,
			},
			{
				Name:  "history",
				Usage: "read results stored in the archive",
				Subcommands: []*cli.Command{
					{
						Name:  "holdings",
						Usage: "latest archived holdings of one stock on one day",
						Flags: append([]cli.Flag{
							stockFlag,
							&cli.StringFlag{Name: "date", Value: today.AddDate(0, 0, -1).Format(shareholding.DateLayout), Usage: "YYYY-MM-DD"},
						}, outputFlags...),
						Action: e.historyHoldings,
					},
					{
						Name:   "transactions",
						Usage:  "archived transactions dated within a range",
						Flags:  append(append([]cli.Flag{}, rangeFlags...), outputFlags...),
						Action: e.historyTransactions,
					},
				},
			},
			{
				Name:  "serve",
				Usage: "serve the JSON API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "address, defaults to the configured listen_addr"},
				},
				Action: e.serve,
			},
		},
	}
}

func (e *env) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("archive"); v != "" {
		cfg.ArchivePath = v
	}
	e.cfg = cfg

	e.logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	if cfg.ArchivePath != "" {
		e.archive, err = archive.Open(cfg.ArchivePath, e.logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *env) close() error {
	if e.logger != nil {
		_ = e.logger.Sync()
	}
	if e.archive != nil {
		return e.archive.Close()
	}
	return nil
}

func (e *env) repository(ctx context.Context) (*shareholding.Repository, error) {
	session, err := hkex.NewSession(ctx, hkex.Options{
		SourceURL:  e.cfg.SourceURL,
		UserAgent:  e.cfg.UserAgent,
		HTTPClient: &http.Client{Timeout: e.cfg.HTTPTimeout.Duration},
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}
	return shareholding.NewRepository(session, e.logger), nil
}

func (e *env) holdings(c *cli.Context) error {
	if c.String("stock") == "" {
		return shareholding.ErrEmptyStockCode
	}
	date, err := shareholding.ParseDay(c.String("date"))
	if err != nil {
		return err
	}

	opts := []shareholding.Option{
		shareholding.WithTopN(c.Int("top")),
		shareholding.WithParticipant(c.String("participant-id"), c.String("participant-name")),
	}
	if names := c.StringSlice("column"); len(names) > 0 {
		cols := make([]shareholding.Column, 0, len(names))
		for _, name := range names {
			col, err := shareholding.ParseColumn(name)
			if err != nil {
				return err
			}
			cols = append(cols, col)
		}
		opts = append(opts, shareholding.WithColumns(cols...))
	}

	repo, err := e.repository(c.Context)
	if err != nil {
		return err
	}
	snap, err := repo.GetDataByStock(c.Context, c.String("stock"), date, opts...)
	if err != nil {
		return err
	}
	if snap.Failed() {
		e.logger.Warn("result page could not be parsed, writing an empty table", zap.Error(snap.ParseErr))
	}
	if e.archive != nil {
		if _, err := e.archive.SaveSnapshot(c.Context, snap); err != nil {
			return err
		}
	}
	return e.write(c, snap)
}

func (e *env) trend(c *cli.Context) error {
	stock, start, end, err := rangeArgs(c)
	if err != nil {
		return err
	}
	top := e.cfg.TopN
	if c.IsSet("top") {
		top = c.Int("top")
	}

	repo, err := e.repository(c.Context)
	if err != nil {
		return err
	}
	trend, err := repo.Trend(c.Context, stock, start, end, top)
	if err != nil {
		return err
	}
	if e.archive != nil {
		if _, err := e.archive.SaveTrend(c.Context, trend); err != nil {
			return err
		}
	}
	return e.write(c, trend)
}

func (e *env) transactions(c *cli.Context) error {
	stock, start, end, err := rangeArgs(c)
	if err != nil {
		return err
	}
	pct := e.cfg.Threshold
	if c.IsSet("threshold") {
		pct = c.Float64("threshold")
	}
	if pct < 0 {
		return fmt.Errorf("threshold must not be negative, got %v", pct)
	}

	repo, err := e.repository(c.Context)
	if err != nil {
		return err
	}
	txs, err := repo.Transactions(c.Context, stock, start, end, shareholding.PercentToFraction(pct))
	if err != nil {
		return err
	}
	if e.archive != nil {
		if _, err := e.archive.SaveTransactions(c.Context, txs); err != nil {
			return err
		}
	}
	return e.write(c, txs)
}

var errNoArchive = errors.New("no archive configured, set --archive or archive_path")

func (e *env) historyHoldings(c *cli.Context) error {
	if e.archive == nil {
		return errNoArchive
	}
	stock := c.String("stock")
	if stock == "" {
		return shareholding.ErrEmptyStockCode
	}
	date, err := shareholding.ParseDay(c.String("date"))
	if err != nil {
		return err
	}

	records, err := e.archive.Holdings(c.Context, stock, date)
	if err != nil {
		return err
	}
	return e.write(c, &shareholding.Snapshot{
		StockCode: stock,
		Date:      date,
		Columns:   shareholding.AllColumns,
		Records:   records,
	})
}

func (e *env) historyTransactions(c *cli.Context) error {
	if e.archive == nil {
		return errNoArchive
	}
	stock, start, end, err := rangeArgs(c)
	if err != nil {
		return err
	}

	rows, err := e.archive.Transactions(c.Context, stock, start, end)
	if err != nil {
		return err
	}
	return e.write(c, &shareholding.Transactions{StockCode: stock, Start: start, End: end, Rows: rows})
}

func (e *env) serve(c *cli.Context) error {
	addr := e.cfg.ListenAddr
	if v := c.String("listen"); v != "" {
		addr = v
	}

	repo, err := e.repository(c.Context)
	if err != nil {
		return err
	}
	opts := api.Options{TopN: e.cfg.TopN, Threshold: e.cfg.Threshold, Logger: e.logger}
	if e.archive != nil {
		opts.Recorder = e.archive
	}

	srv := &http.Server{Addr: addr, Handler: api.NewServer(repo, opts).Routes()}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	e.logger.Info("serving", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func rangeArgs(c *cli.Context) (string, time.Time, time.Time, error) {
	stock := c.String("stock")
	if stock == "" {
		return "", time.Time{}, time.Time{}, shareholding.ErrEmptyStockCode
	}
	start, err := shareholding.ParseDay(c.String("start"))
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	end, err := shareholding.ParseDay(c.String("end"))
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return "", time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s", c.String("start"), c.String("end"))
	}
	return stock, start, end, nil
}

func (e *env) write(c *cli.Context, t export.Table) error {
	format, err := export.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	var w io.Writer = c.App.Writer
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.Write(w, t, format)
}
