package daemon

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"audiorelay/internal/logging"
	"audiorelay/internal/notifications"
	"audiorelay/internal/pipeline"
)

const launchAlertInterval = 15 * time.Minute

// alerter turns request outcomes into operator notifications. A fallback
// streak alerts once when it reaches the threshold and rearms after the next
// successful resolution.
type alerter struct {
	svc       notifications.Service
	logger    *slog.Logger
	threshold int64
	binary    string

	streak       atomic.Int64
	launchAlerts rate.Sometimes
	wg           sync.WaitGroup
}

func newAlerter(svc notifications.Service, logger *slog.Logger, threshold int, binary string) *alerter {
	return &alerter{
		svc:          svc,
		logger:       logger,
		threshold:    int64(threshold),
		binary:       binary,
		launchAlerts: rate.Sometimes{Interval: launchAlertInterval},
	}
}

func (a *alerter) started(addr string, strategies []string) {
	a.publish(notifications.EventDaemonStarted, notifications.Payload{
		"address":    addr,
		"strategies": strings.Join(strategies, ", "),
	})
}

func (a *alerter) outcome(source string, outcome pipeline.Outcome) {
	if outcome.Success {
		a.streak.Store(0)
		return
	}
	n := a.streak.Add(1)
	if a.threshold > 0 && n == a.threshold {
		a.publish(notifications.EventFallbackStreak, notifications.Payload{
			"count":      strconv.FormatInt(n, 10),
			"lastSource": source,
		})
	}
}

func (a *alerter) launchFailed(err error) {
	a.launchAlerts.Do(func() {
		a.publish(notifications.EventExtractorUnavailable, notifications.Payload{
			"binary": a.binary,
			"error":  err.Error(),
		})
	})
}

func (a *alerter) publish(event notifications.Event, payload notifications.Payload) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.svc.Publish(context.Background(), event, payload); err != nil {
			logging.WarnWithContext(a.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "operator alert not delivered"),
			)
		}
	}()
}

func (a *alerter) wait() {
	a.wg.Wait()
}
