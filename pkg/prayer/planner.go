// Package prayer plans and executes the prayer-time fan-out: the Cartesian
// product of persisted locations, calculation methods, both schools, and the
// requested day span. Workers partition locations so each location's
// combinations stay ordered, and upstream calls are paced by a shared rate
// limiter plus a jittered politeness delay.
package prayer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/syncer"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

// Day span bounds for prewarm and slice syncs.
const (
	MinDays = 1
	MaxDays = 365
)

// Schools recognized by the upstream. 0 is Shafi, 1 is Hanafi.
var Schools = []int{0, 1}

// Planner executes the fan-out.
type Planner struct {
	engine         *syncer.Engine
	st             *store.Store
	client         *upstream.Client
	baseURL        string
	maxConcurrency int
	politenessMin  time.Duration
	politenessMax  time.Duration
	limiter        *rate.Limiter
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) bool
}

// Config tunes a Planner.
type Config struct {
	BaseURL        string
	MaxConcurrency int
	PolitenessMin  time.Duration
	PolitenessMax  time.Duration
}

// NewPlanner wires the fan-out planner.
func NewPlanner(engine *syncer.Engine, st *store.Store, client *upstream.Client, cfg Config) *Planner {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 2
	}
	if cfg.PolitenessMin <= 0 {
		cfg.PolitenessMin = 75 * time.Millisecond
	}
	if cfg.PolitenessMax < cfg.PolitenessMin {
		cfg.PolitenessMax = 500 * time.Millisecond
	}
	return &Planner{
		engine:         engine,
		st:             st,
		client:         client,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		maxConcurrency: cfg.MaxConcurrency,
		politenessMin:  cfg.PolitenessMin,
		politenessMax:  cfg.PolitenessMax,
		limiter:        rate.NewLimiter(rate.Every(cfg.PolitenessMin), cfg.MaxConcurrency),
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// LocKey is the canonical location key: latitude and longitude rounded to
// four decimals, comma joined.
func LocKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", round4(lat), round4(lng))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// combination is one work unit of the fan-out.
type combination struct {
	location *store.PrayerLocation
	method   *store.PrayerMethod
	school   int
	date     time.Time
}

// Prewarm syncs every (location, method, school, day) combination for the
// next days days.
func (p *Planner) Prewarm(ctx context.Context, days int, opts syncer.Options) (*syncer.Result, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}

	return p.engine.Execute(ctx, store.JobTypePrayer, "times", opts, func(ctx context.Context, run *syncer.Run) error {
		locations, err := p.st.Prayer.Locations(ctx)
		if err != nil {
			return err
		}
		methods, err := p.st.Prayer.Methods(ctx)
		if err != nil {
			return err
		}
		if len(locations) == 0 || len(methods) == 0 {
			return nil
		}

		start := p.today()
		total := len(locations) * len(methods) * len(Schools) * days
		var done int64
		var doneMu sync.Mutex

		// Locations partition across workers by id so one location's
		// combinations never interleave.
		var wg sync.WaitGroup
		for w := 0; w < p.maxConcurrency; w++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for _, loc := range locations {
					if int(loc.ID)%p.maxConcurrency != worker {
						continue
					}
					for _, method := range methods {
						for _, school := range Schools {
							for d := 0; d < days; d++ {
								if run.Cancelled(ctx) {
									return
								}
								p.politeness(ctx)
								p.syncCombination(ctx, run, combination{
									location: loc,
									method:   method,
									school:   school,
									date:     start.AddDate(0, 0, d),
								})
								doneMu.Lock()
								done++
								run.ReportProgress(ctx, int(done*100/int64(total)))
								doneMu.Unlock()
							}
						}
					}
				}
			}(w)
		}
		wg.Wait()
		return nil
	})
}

// SliceParams identify one foreground slice of the fan-out.
type SliceParams struct {
	Latitude   float64
	Longitude  float64
	MethodCode string
	School     int
	Days       int
	Force      bool
	// LatitudeAdjustmentMethod selects the high-latitude rule (0 to 3).
	LatitudeAdjustmentMethod int
	// Tune is the upstream's comma-separated per-prayer minute offsets.
	Tune     string
	Timezone string
	City     string
	Country  string
}

// Validate checks the slice parameters.
func (sp SliceParams) Validate() error {
	var failures []string
	if sp.Latitude < -90 || sp.Latitude > 90 {
		failures = append(failures, "latitude must be within [-90, 90]")
	}
	if sp.Longitude < -180 || sp.Longitude > 180 {
		failures = append(failures, "longitude must be within [-180, 180]")
	}
	if sp.MethodCode == "" {
		failures = append(failures, "methodCode is required")
	}
	if sp.School != 0 && sp.School != 1 {
		failures = append(failures, "school must be 0 (Shafi) or 1 (Hanafi)")
	}
	if sp.Days < MinDays || sp.Days > MaxDays {
		failures = append(failures, fmt.Sprintf("days must be within [%d, %d]", MinDays, MaxDays))
	}
	if sp.LatitudeAdjustmentMethod < 0 || sp.LatitudeAdjustmentMethod > 3 {
		failures = append(failures, "latitudeAdjustmentMethod must be within [0, 3]")
	}
	if len(failures) > 0 {
		return errs.Validation("invalid prayer slice parameters", failures...)
	}
	return nil
}

// SyncOne syncs a single (location, method, school) slice for the requested
// day span, persisting the location first.
func (p *Planner) SyncOne(ctx context.Context, sp SliceParams, opts syncer.Options) (*syncer.Result, error) {
	if err := sp.Validate(); err != nil {
		return nil, err
	}

	method, err := p.st.Prayer.Methods(ctx)
	if err != nil {
		return nil, err
	}
	var matched *store.PrayerMethod
	for _, m := range method {
		if strings.EqualFold(m.Code, sp.MethodCode) {
			matched = m
			break
		}
	}
	if matched == nil {
		return nil, errs.Newf(errs.KindNotFound, "unknown calculation method %q", sp.MethodCode)
	}

	loc := &store.PrayerLocation{
		LocKey:    LocKey(sp.Latitude, sp.Longitude),
		Latitude:  round4(sp.Latitude),
		Longitude: round4(sp.Longitude),
		City:      sp.City,
		Country:   sp.Country,
		Timezone:  sp.Timezone,
	}
	if !opts.DryRun {
		if _, err := p.st.Prayer.UpsertLocation(ctx, loc); err != nil {
			return nil, err
		}
	}

	opts.Force = opts.Force || sp.Force
	resource := fmt.Sprintf("times:%s:%s:%d", loc.LocKey, matched.Code, sp.School)

	return p.engine.Execute(ctx, store.JobTypePrayer, resource, opts, func(ctx context.Context, run *syncer.Run) error {
		start := p.today()
		for d := 0; d < sp.Days; d++ {
			if run.Cancelled(ctx) {
				return nil
			}
			p.politeness(ctx)
			p.syncCombination(ctx, run, combination{
				location: loc,
				method:   matched,
				school:   sp.School,
				date:     start.AddDate(0, 0, d),
			}, sliceQuery(sp)...)
			run.ReportProgress(ctx, (d+1)*100/sp.Days)
		}
		return nil
	})
}

// syncCombination fetches and upserts one day's times. Failures count
// against the run; they never abort the fan-out.
func (p *Planner) syncCombination(ctx context.Context, run *syncer.Run, c combination, extra ...string) {
	if run.DryRun() {
		run.Processed(1)
		return
	}

	times, err := p.fetchTimings(ctx, c, extra...)
	if err != nil {
		run.Fail(fmt.Errorf("%s %s school %d %s: %w",
			c.location.LocKey, c.method.Code, c.school, c.date.Format("2006-01-02"), err))
		return
	}
	outcome, err := p.st.Prayer.UpsertTimes(ctx, times)
	if err != nil {
		run.Fail(err)
		return
	}
	run.Record(outcome)
}

// politeness paces upstream calls: a shared limiter caps the aggregate rate
// across workers, and a jittered delay keeps individual workers from
// hammering in lockstep.
func (p *Planner) politeness(ctx context.Context) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	span := p.politenessMax - p.politenessMin
	delay := p.politenessMin
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	p.sleep(ctx, delay)
}

func (p *Planner) today() time.Time {
	return p.now().UTC().Truncate(24 * time.Hour)
}

func validateDays(days int) error {
	if days < MinDays || days > MaxDays {
		return errs.Validation("invalid day span",
			fmt.Sprintf("days must be within [%d, %d], got %d", MinDays, MaxDays, days))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func sliceQuery(sp SliceParams) []string {
	var extra []string
	if sp.LatitudeAdjustmentMethod != 0 {
		extra = append(extra, fmt.Sprintf("latitudeAdjustmentMethod=%d", sp.LatitudeAdjustmentMethod))
	}
	if sp.Tune != "" {
		extra = append(extra, "tune="+sp.Tune)
	}
	if sp.Timezone != "" {
		extra = append(extra, "timezonestring="+sp.Timezone)
	}
	return extra
}
