package poll

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"statusd/internal/config"
	"statusd/internal/ics"
	appLog "statusd/internal/log"
	"statusd/internal/model"
	"statusd/internal/override"
	"statusd/internal/status"
	"statusd/internal/workhours"
)

// group is the per-entity runtime state: static configuration plus the
// resolved location and working-hours policy. Nothing here is mutated after
// New, so entities share no mutable state across cycles.
type group struct {
	cfg    config.GroupConfig
	loc    *time.Location
	policy *workhours.Policy
}

// Runner drives the resolution pipeline for all configured groups on a
// shared schedule. Per-entity failures become that entity's error record
// and never abort the cycle or affect sibling entities.
type Runner struct {
	cfg     *config.Config
	fetcher *ics.Fetcher
	groups  []group

	// now is swappable for tests.
	now func() time.Time
}

// New builds a Runner from an immutable configuration. Invalid per-group
// timezones fall back to UTC; invalid working-hours windows disable that
// group's policy for the process lifetime. Both are logged once here.
func New(cfg *config.Config) *Runner {
	r := &Runner{
		cfg: cfg,
		fetcher: ics.NewFetcher(ics.FetcherOptions{
			RefreshWindow:      time.Duration(cfg.RefreshSeconds) * time.Second,
			Timeout:            time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
			CABundle:           cfg.TLS.CABundle,
		}),
		now: time.Now,
	}

	for _, gc := range cfg.Groups {
		g := group{cfg: gc}

		loc, err := time.LoadLocation(gc.Timezone)
		if err != nil {
			appLog.Error("invalid timezone, falling back to UTC", err,
				"group", gc.Name, "timezone", gc.Timezone)
			loc = time.UTC
		}
		g.loc = loc

		if wh := gc.WorkHours; wh != nil {
			policy, err := workhours.Parse(wh.Start, wh.End, wh.Days)
			if err != nil {
				appLog.Error("invalid working hours, policy disabled", err, "group", gc.Name)
			} else {
				g.policy = policy
			}
		}

		r.groups = append(r.groups, g)
	}

	return r
}

// Run emits boot records, runs one immediate cycle, then resolves on the
// configured schedule until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.writeBootRecords()
	r.RunCycle(ctx)

	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Poll, func() { r.RunCycle(ctx) }); err != nil {
		return err
	}
	c.Start()
	appLog.Info("poll loop started", "schedule", r.cfg.Poll, "groups", len(r.groups))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// writeBootRecords publishes an available/boot record per entity so that
// consumers never see an unset status before the first cycle completes.
func (r *Runner) writeBootRecords() {
	now := r.now()
	for _, g := range r.groups {
		rec := status.Boot(g.cfg.Name, g.cfg.Timezone, g.loc, now)
		if err := status.Write(g.cfg.StatusPath, rec); err != nil {
			appLog.Error("boot status write failed", err, "group", g.cfg.Name)
		}
	}
}

// RunCycle resolves every group once, in configuration order, then writes
// the combined snapshot.
func (r *Runner) RunCycle(ctx context.Context) {
	people := make([]model.StatusRecord, 0, len(r.groups))

	for _, g := range r.groups {
		rec := r.resolveGroup(ctx, g)
		if err := status.Write(g.cfg.StatusPath, rec); err != nil {
			appLog.Error("status write failed", err, "group", g.cfg.Name)
		}
		people = append(people, rec)
	}

	snap := model.Snapshot{
		Generated: model.FormatUTC(r.now()),
		People:    people,
	}
	if err := status.WriteSnapshot(r.cfg.OutputPath, snap); err != nil {
		appLog.Error("snapshot write failed", err, "path", r.cfg.OutputPath)
	}
}

// resolveGroup runs fetch → extract → merge for one entity. Fetch and parse
// failures are carried into the merge as this cycle's resolution error.
func (r *Runner) resolveGroup(ctx context.Context, g group) model.StatusRecord {
	now := r.now()

	var events []model.CalendarEvent
	var resolveErr error

	text, err := r.fetcher.Fetch(ctx, g.cfg.URL, g.cfg.CachePath)
	if err != nil {
		appLog.Error("feed resolution failed", err, "group", g.cfg.Name)
		resolveErr = err
	} else {
		events, err = ics.Extract([]byte(text), ics.ExtractOptions{
			DefaultLocation: g.loc,
			UseMSBusyStatus: r.cfg.UseMSBusyStatus,
		})
		if err != nil {
			appLog.Error("feed parse failed", err, "group", g.cfg.Name)
			resolveErr = err
		}
	}

	rec := status.Merge(status.Inputs{
		Now:                   now,
		Location:              g.loc,
		TimezoneName:          g.cfg.Timezone,
		Events:                events,
		ResolveErr:            resolveErr,
		Override:              override.Load(g.cfg.OverridePath, now),
		Policy:                g.policy,
		AllDayOnlyCountsIfOOO: r.cfg.AllDayOOOOnly(),
		ShowEventDetails:      r.cfg.ShowDetails(),
	})
	rec.Name = g.cfg.Name
	return rec
}
