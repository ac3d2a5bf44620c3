package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"lifeflow/internal/clock"
	"lifeflow/internal/config"
	"lifeflow/internal/ics"
	appLog "lifeflow/internal/log"
	"lifeflow/internal/sequence"
	"lifeflow/internal/timeline"
	"lifeflow/internal/vault"
	"lifeflow/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	exportICS  bool
}

func main() {
	appLog.Info("lifeflow starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	entryFile := conf.ResolveEntryFile(filepath.Dir(flags.configPath))
	appLog.Info("effective config",
		"listen", conf.Listen,
		"entry_file", entryFile,
		"refresh", conf.RefreshCron,
		"watch", conf.Watch,
		"timezone", conf.Timezone,
		"feed_count", len(conf.Feeds),
		"once", flags.once,
		"ics", flags.exportICS,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	loc := loadLocation(conf.Timezone)
	clk := clock.NewSystem()

	v := vault.New(entryFile)
	if err := v.Init(); err != nil {
		appLog.Error("failed to create entry file", err, "entry_file", entryFile)
		os.Exit(1)
	}
	if ok, err := v.IsValidEntry(); err != nil {
		appLog.Error("failed to read entry file", err, "entry_file", entryFile)
		os.Exit(1)
	} else if !ok {
		appLog.Error("entry file is not a lifeflow root", vault.ErrInvalidEntry, "entry_file", entryFile)
		os.Exit(1)
	}

	feed := ics.NewFeed(ics.NewFetcher(conf.CacheDir), ics.FeedConfig{
		Sources:      feedSources(conf.Feeds),
		Location:     loc,
		HorizonDays:  conf.FeedHorizonDays,
		BackfillDays: conf.FeedBackfillDays,
		Clock:        clk,
	})
	tl := newTimeline(v, feed)

	if err := tl.Reload(ctx); err != nil {
		appLog.Error("initial load failed", err)
		if flags.once {
			os.Exit(1)
		}
	}

	if flags.once {
		entries := tl.Snapshot()
		if flags.exportICS {
			fmt.Print(ics.Export(entries, ics.ExportConfig{
				CalendarName: conf.CalendarName,
				Location:     loc,
				Now:          clk.Now(),
			}))
			return
		}
		printTimeline(os.Stdout, entries)
		return
	}

	reload := func(reason string) {
		appLog.Debug("reloading timeline", "reason", reason)
		if err := tl.Reload(ctx); err != nil {
			appLog.Error("reload failed", err, "reason", reason)
		}
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, func() { reload("cron") }); err != nil {
		appLog.Error("invalid refresh schedule; periodic reload disabled", err, "refresh", conf.RefreshCron)
	} else {
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	if conf.Watch {
		w, err := v.Watch(ctx, 0, func() { reload("vault change") })
		if err != nil {
			appLog.Error("failed to watch vault; continuing without", err, "dir", v.Dir())
		} else {
			defer w.Close()
		}
	}

	srv := web.NewServer(conf, tl, clk)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	time.Sleep(100 * time.Millisecond)
	appLog.Info("lifeflow exiting")
}

// newTimeline loads calendar stories ahead of the vault's, so the vault's
// trailing unplanned stories stay at the end instead of routing into a
// calendar day. Edits persist to the vault.
func newTimeline(v *vault.Vault, feed timeline.Source) *timeline.Timeline {
	return timeline.New(timeline.MultiSource{feed, v}, v)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load and print the ordered timeline, then exit")
	flag.BoolVar(&cfg.exportICS, "ics", false, "With -once, print the timeline as iCalendar instead")

	flag.Parse()

	return cfg
}

func feedSources(feeds []config.FeedConfig) []ics.Source {
	out := make([]ics.Source, 0, len(feeds))
	for i, f := range feeds {
		if f.URL == "" {
			continue
		}
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("feed%d", i)
		}
		out = append(out, ics.Source{ID: id, URL: f.URL})
	}
	return out
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

// printTimeline writes one line per entry: date, clock, gap marker and name.
func printTimeline(w io.Writer, entries []sequence.Entry) {
	for _, e := range entries {
		date := "----------"
		if e.HasDate {
			date = e.Date
		}
		clk := "     "
		if e.HasTime {
			clk = fmt.Sprintf("%02d:%02d", e.Minutes/60, e.Minutes%60)
		}
		gap := ""
		if e.DistanceFromPrevious > 0 {
			gap = fmt.Sprintf(" (+%dd)", e.DistanceFromPrevious)
		}
		fmt.Fprintf(w, "%s %s %s%s\n", date, clk, strings.TrimSpace(e.Story.Name), gap)
	}
}
