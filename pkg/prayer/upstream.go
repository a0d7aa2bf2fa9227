package prayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

// timingsResponse is the upstream per-day payload.
type timingsResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
		Date    struct {
			Hijri struct {
				Date string `json:"date"`
			} `json:"hijri"`
		} `json:"date"`
	} `json:"data"`
}

// fetchTimings pulls one day's times for a combination.
func (p *Planner) fetchTimings(ctx context.Context, c combination, extra ...string) (*store.PrayerTimes, error) {
	url := fmt.Sprintf("%s/timings/%s?latitude=%.4f&longitude=%.4f&method=%d&school=%d",
		p.baseURL, c.date.Format("02-01-2006"),
		c.location.Latitude, c.location.Longitude, c.method.MethodID, c.school)
	if len(extra) > 0 {
		url += "&" + strings.Join(extra, "&")
	}

	var resp timingsResponse
	if err := p.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return mapTimings(resp, c)
}

// mapTimings projects the upstream payload; pure.
func mapTimings(resp timingsResponse, c combination) (*store.PrayerTimes, error) {
	t := resp.Data.Timings
	if len(t) == 0 {
		return nil, errs.New(errs.KindProtocol, "upstream timings payload is empty")
	}
	for _, required := range []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"} {
		if t[required] == "" {
			return nil, errs.Newf(errs.KindValidation, "upstream timings missing %s", required)
		}
	}
	return &store.PrayerTimes{
		LocKey:    c.location.LocKey,
		Date:      c.date,
		Method:    c.method.Code,
		School:    c.school,
		Fajr:      t["Fajr"],
		Sunrise:   t["Sunrise"],
		Dhuhr:     t["Dhuhr"],
		Asr:       t["Asr"],
		Maghrib:   t["Maghrib"],
		Isha:      t["Isha"],
		Midnight:  t["Midnight"],
		HijriDate: resp.Data.Date.Hijri.Date,
	}, nil
}
