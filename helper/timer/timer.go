package timer

import (
	"context"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug"

	log "github.com/sirupsen/logrus"
)

// Interval describes a periodic schedule. Jitter spreads the ticks so that
// many clients started together don't hit the tracker in lockstep.
type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

type tickerJitter struct {
	MaxJitter time.Duration
}

func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter == 0 || j.MaxJitter >= d {
		return d
	}

	return d + (time.Duration(rand.Int63n(int64(2*j.MaxJitter))) - j.MaxJitter)
}

// RunWithTicker runs f on every tick of the interval. It returns when the
// context is cancelled or when f returns an error. A jitter that is not
// smaller than the interval is clamped to zero; intervals come from config,
// a bad value must not take the process down.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	maxJitter := interval.Jitter
	if maxJitter >= interval.Duration {
		log.Warnf("RunWithTicker: jitter %v is not smaller than interval %v for %s, running without jitter", interval.Jitter, interval.Duration, funcName)
		maxJitter = 0
	}

	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: maxJitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}
