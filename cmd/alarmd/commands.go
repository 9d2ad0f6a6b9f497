package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"alarmsched/internal/alarm"
	"alarmsched/internal/app"
	"alarmsched/internal/config"
	logx "alarmsched/pkg/logx"
)

const defaultConfig = "./alarmd.json"

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Usage: "path to the config file (.json, .yaml or .toml)",
	Value: defaultConfig,
}

// Execute runs the CLI with args and writes command output to out.
func Execute(args []string, out io.Writer) error {
	a := cli.App{
		Name:      "alarmd",
		HelpName:  "alarmd",
		Usage:     "alarm scheduling daemon",
		UsageText: "alarmd <command> [arguments...]",
		Version:   versionString(),
		Writer:    out,
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "load the config and run until SIGINT/SIGTERM",
				Flags:  []cli.Flag{configFlag},
				Action: run,
			},
			{
				Name:   "check",
				Usage:  "validate the config and print the resolved schedule",
				Flags:  []cli.Flag{configFlag},
				Action: check,
			},
			{
				Name:  "journal",
				Usage: "print the most recent journal records",
				Flags: []cli.Flag{
					configFlag,
					cli.IntFlag{Name: "n", Usage: "number of records", Value: 20},
				},
				Action: journal,
			},
		},
	}
	return a.Run(args)
}

func versionString() string {
	if commit == "" {
		return version
	}
	return version + "+" + commit
}

func run(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(c.String("config"))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func check(c *cli.Context) error {
	m := config.NewConfigManager(c.String("config"))
	cfg, err := m.Load()
	if err != nil {
		return err
	}
	loc, _ := cfg.Scheduler.Location()

	type row struct {
		owner int
		label string
		kind  alarm.Kind
		at    time.Time
	}
	var rows []row
	for _, ac := range cfg.Alarms {
		if !ac.IsEnabled() {
			continue
		}
		times, err := ac.Schedule(loc)
		if err != nil {
			return err
		}
		for kind, at := range times {
			rows = append(rows, row{owner: ac.ID, label: ac.Label, kind: kind, at: at})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.Before(rows[j].at)
		}
		if rows[i].owner != rows[j].owner {
			return rows[i].owner < rows[j].owner
		}
		return rows[i].kind < rows[j].kind
	})

	out := c.App.Writer
	fmt.Fprintf(out, "config ok: %d enabled alarm(s), %d pending entries, strict=%v\n",
		len(cfg.AlarmIDs()), len(rows), cfg.Scheduler.Strict)
	if len(rows) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIRE TIME\tOWNER\tKIND\tLABEL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.at.In(loc).Format(time.RFC3339), r.owner, r.kind, r.label)
	}
	return tw.Flush()
}

func journal(c *cli.Context) error {
	m := config.NewConfigManager(c.String("config"))
	cfg, err := m.Load()
	if err != nil {
		return err
	}
	st, err := app.OpenJournal(cfg, logx.Nop())
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("journal disabled: set storage.driver to file or sqlite")
	}
	defer st.Close()

	recs, err := st.Recent(context.Background(), c.Int("n"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	if len(recs) == 0 {
		fmt.Fprintln(out, "journal is empty")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tTYPE\tOWNER\tKIND\tFIRE TIME\tDETAIL")
	for _, r := range recs {
		fire := "-"
		if !r.FireTime.IsZero() {
			fire = r.FireTime.Format(time.RFC3339)
		}
		owner := "-"
		if r.Type != "schedule.cleared" {
			owner = fmt.Sprint(r.Owner)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.At.Format(time.RFC3339), r.Type, owner, dash(r.Kind), fire, dash(r.Detail))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
