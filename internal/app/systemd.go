package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "alarmsched/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// Notifier reports daemon state to the service manager.
type Notifier interface {
	Notify(state string) (sent bool, err error)
	// WatchdogInterval returns 0 when no watchdog is expected.
	WatchdogInterval() (time.Duration, error)
}

type systemdNotifier struct{}

func (systemdNotifier) Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

func (systemdNotifier) WatchdogInterval() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}

func (a *App) notifyState(state string) {
	if a.notify == nil {
		return
	}
	sent, err := a.notify.Notify(state)
	if err != nil {
		a.log.Warn("service manager notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("service manager notified", logx.String("state", state))
	}
}

// startWatchdog pings the service manager at half the configured interval.
func (a *App) startWatchdog() {
	if a.notify == nil {
		return
	}
	interval, err := a.notify.WatchdogInterval()
	if err != nil {
		a.log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	a.log.Info("watchdog enabled", logx.Duration("interval", interval))
	a.sup.Go0("watchdog", func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.notifyState(sdWatchdog)
			}
		}
	})
}
