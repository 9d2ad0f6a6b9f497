package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"alarmsched/internal/alarm"
	"alarmsched/internal/config"
	"alarmsched/internal/eventbus"
	"alarmsched/internal/runtime/supervisor"
	"alarmsched/internal/schedule"
	"alarmsched/internal/storage"
	"alarmsched/internal/waketimer"
	logx "alarmsched/pkg/logx"
)

// EventAlarmFired is published by the host when the wake timer delivers an
// entry that is still pending.
const EventAlarmFired = "alarm.fired"

type AlarmFired struct {
	Owner    int
	Kind     alarm.Kind
	FireTime time.Time
	Label    string
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	timer  *waketimer.Timer
	engine *schedule.Engine
	clock  schedule.Clock
	notify Notifier

	// guards the settings hot reload may change
	mu       sync.RWMutex
	loc      *time.Location
	skipPast bool
	labels   map[int]string
}

type Option func(*App)

// WithClock replaces the wall clock used for past checks.
func WithClock(c schedule.Clock) Option { return func(a *App) { a.clock = c } }

// WithNotifier replaces the service manager notifier.
func WithNotifier(n Notifier) Option { return func(a *App) { a.notify = n } }

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		bus:      eventbus.New(),
		clock:    schedule.RealClock{},
		notify:   systemdNotifier{},
		loc:      loc,
		skipPast: cfg.Scheduler.SkipPastOrDefault(),
		labels:   labelsOf(cfg),
	}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	store, err := OpenJournal(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = a.logs.Close()
		return nil, err
	}
	if store != nil {
		a.store = store
		a.log.Info("journal enabled", logx.String("driver", cfg.Storage.Driver))
	}

	a.timer = waketimer.New(nil, log.With(logx.String("comp", "waketimer")))
	eng, err := schedule.New(schedule.Config{
		Strict: cfg.Scheduler.Strict,
		Clock:  a.clock,
	}, a.timer, a.bus, log.With(logx.String("comp", "schedule")))
	if err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = a.logs.Close()
		return nil, err
	}
	a.engine = eng
	a.timer.SetHandler(a.onFire)
	return a, nil
}

func (a *App) Engine() *schedule.Engine { return a.engine }
func (a *App) Bus() eventbus.Bus        { return a.bus }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateConfig)

	// Journal first so the initial schedule is recorded.
	if a.store != nil {
		events, unsub := a.bus.Subscribe(256,
			schedule.EventScheduleChanged, schedule.EventAllUnscheduled, EventAlarmFired)
		a.sup.Go0("journal", func(c context.Context) {
			defer unsub()
			a.journalLoop(c, events)
		})
	}

	cfg := a.cfgm.Get()
	for _, ac := range cfg.Alarms {
		if !ac.IsEnabled() {
			continue
		}
		a.applyAlarm(ac)
	}
	a.log.Info("alarms loaded",
		logx.String("config", a.cfgm.Path()),
		logx.Int("enabled", len(cfg.AlarmIDs())),
		logx.Int("pending", a.engine.Len()),
	)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
	})
	// pick up edits made between New and the watcher starting
	if _, err := a.cfgm.Reload(ctx); err != nil {
		a.log.Warn("config reload failed", logx.Err(err))
	}
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(500*time.Millisecond, 30*time.Second),
		supervisor.WithMaxRestarts(5),
	)

	a.startWatchdog()
	a.notifyState(sdReady)
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	c := a.sup.Counters()
	a.log.Info("stopping",
		logx.String("reason", string(reason)),
		logx.Int64("goroutines", c.Active),
		logx.Uint64("started", c.Started),
	)
	a.notifyState(sdStopping)

	if err := a.timer.Close(); err != nil {
		a.log.Warn("wake timer close failed", logx.Err(err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := a.sup.Stop(waitCtx); err != nil {
		a.log.Warn("supervisor wait", logx.Err(err))
	}
	cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("journal close failed", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// applyAlarm hands one configured alarm to the engine. Kinds already in the
// past are dropped first when skip_past is on, so a restart does not replay
// old alarms.
func (a *App) applyAlarm(ac config.AlarmConfig) {
	a.mu.RLock()
	loc, skipPast := a.loc, a.skipPast
	a.mu.RUnlock()

	log := a.log.With(logx.Int("owner", ac.ID))
	times, err := ac.Schedule(loc)
	if err != nil {
		log.Warn("alarm skipped", logx.Err(err))
		return
	}
	if skipPast {
		now := a.clock.Now()
		for kind, at := range times {
			if !at.After(now) {
				log.Debug("past fire time skipped", logx.Stringer("kind", kind), logx.Time("fire_time", at))
				delete(times, kind)
			}
		}
	}
	a.reportSet(log, a.engine.Set(ac.ID, times))
}

// validateConfig runs before a reloaded config is committed. In strict mode
// without skip_past the engine would refuse past fire times, so such a config
// is rejected as a whole instead of being applied in part.
func (a *App) validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if !cfg.Scheduler.Strict || cfg.Scheduler.SkipPastOrDefault() {
		return nil
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	now := a.clock.Now()
	var errs []error
	for _, ac := range config.DiffAlarms(a.cfgm.Get(), cfg).Set {
		times, err := ac.Schedule(loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("alarm %d: %w", ac.ID, err))
			continue
		}
		for _, kind := range alarm.Kinds() {
			if at, ok := times[kind]; ok && !at.After(now) {
				errs = append(errs, fmt.Errorf("alarm %d %s: fire time %s is not in the future", ac.ID, kind, at.Format(time.RFC3339)))
			}
		}
	}
	return errors.Join(errs...)
}

func (a *App) reportSet(log logx.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, schedule.ErrTimer):
		// the store change stands; the next mutation retries the timer
		log.Error("alarm stored but wake timer failed", logx.Err(err))
	default:
		log.Warn("alarm rejected", logx.Err(err))
	}
}

// onFire runs on the wake timer goroutine with no timer locks held.
func (a *App) onFire(key alarm.Key, deadline time.Time) {
	en := alarm.Entry{Key: key, FireTime: deadline}
	consumed, err := a.engine.Consume(en)
	if !consumed {
		a.log.Debug("stale wake-up ignored", logx.Stringer("key", key), logx.Time("deadline", deadline))
		return
	}

	a.mu.RLock()
	label := a.labels[key.Owner]
	a.mu.RUnlock()

	a.log.Info("alarm fired",
		logx.Int("owner", key.Owner),
		logx.Stringer("kind", key.Kind),
		logx.String("label", label),
		logx.Duration("late", a.clock.Now().Sub(deadline)),
	)
	a.bus.Publish(eventbus.Event{Type: EventAlarmFired, Data: AlarmFired{
		Owner:    key.Owner,
		Kind:     key.Kind,
		FireTime: deadline,
		Label:    label,
	}})
	if err != nil {
		a.log.Error("re-arm after fire failed", logx.Err(err))
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, applied *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(applied, newCfg)
			applied = newCfg
		}
	}
}

// applyConfig moves the running daemon from oldCfg to newCfg.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "scheduler":
			a.engine.SetStrict(newCfg.Scheduler.Strict)
			if loc, err := newCfg.Scheduler.Location(); err == nil {
				a.mu.Lock()
				a.loc = loc
				a.skipPast = newCfg.Scheduler.SkipPastOrDefault()
				a.mu.Unlock()
			}
		}
	}

	a.mu.Lock()
	a.labels = labelsOf(newCfg)
	a.mu.Unlock()

	diff := config.DiffAlarms(oldCfg, newCfg)
	for _, id := range diff.Removed {
		a.reportSet(a.log.With(logx.Int("owner", id)), a.engine.Remove(id))
	}
	for _, ac := range diff.Set {
		a.applyAlarm(ac)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) journalLoop(ctx context.Context, events <-chan eventbus.Event) {
	warn := a.log.Every(10*time.Second, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			rec, ok := journalRecord(ev)
			if !ok {
				continue
			}
			actx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := a.store.Append(actx, rec)
			cancel()
			if err != nil {
				warn.Warn("journal append failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}

func journalRecord(ev eventbus.Event) (storage.Record, bool) {
	rec := storage.Record{At: ev.Time, Type: ev.Type}
	switch d := ev.Data.(type) {
	case schedule.ScheduleChanged:
		rec.Owner, rec.Kind, rec.FireTime = d.Owner, d.Kind.String(), d.FireTime
	case schedule.AllUnscheduled:
	case AlarmFired:
		rec.Owner, rec.Kind, rec.FireTime, rec.Detail = d.Owner, d.Kind.String(), d.FireTime, d.Label
	default:
		return storage.Record{}, false
	}
	return rec, true
}

func labelsOf(cfg *config.Config) map[int]string {
	out := make(map[int]string, len(cfg.Alarms))
	for _, ac := range cfg.Alarms {
		if ac.Label != "" {
			out[ac.ID] = ac.Label
		}
	}
	return out
}
