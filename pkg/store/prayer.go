package store

import (
	"context"
	"time"
)

// PrayerLocation is a persisted place prayer times are prewarmed for;
// natural key loc_key (lat,lng rounded to 4 decimals).
type PrayerLocation struct {
	ID           int64
	LocKey       string
	Latitude     float64
	Longitude    float64
	City         string
	Country      string
	Timezone     string
	LastSyncedAt time.Time
}

// PrayerMethod is an upstream calculation method; natural key code
// (MWL, ISNA, ...).
type PrayerMethod struct {
	Code         string
	MethodID     int
	Name         string
	FajrAngle    float64
	IshaAngle    float64
	LastSyncedAt time.Time
}

// PrayerTimes is one computed day; natural key (loc_key, date, method,
// school). School 0 is Shafi, 1 is Hanafi.
type PrayerTimes struct {
	LocKey       string
	Date         time.Time
	Method       string
	School       int
	Fajr         string
	Sunrise      string
	Dhuhr        string
	Asr          string
	Maghrib      string
	Isha         string
	Midnight     string
	HijriDate    string
	LastSyncedAt time.Time
}

// PrayerRepo persists prayer locations, methods, and computed times.
type PrayerRepo struct {
	s *Store
}

// UpsertLocation is idempotent on loc_key.
func (r *PrayerRepo) UpsertLocation(ctx context.Context, l *PrayerLocation) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO prayer_locations (loc_key, latitude, longitude, city, country, timezone, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (loc_key) DO UPDATE SET
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			timezone = EXCLUDED.timezone,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		l.LocKey, l.Latitude, l.Longitude, nullStr(l.City), nullStr(l.Country), nullStr(l.Timezone))
	return scanUpsertOutcome(row, "upsert_location", "prayer_location")
}

// UpsertMethod is idempotent on code.
func (r *PrayerRepo) UpsertMethod(ctx context.Context, m *PrayerMethod) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO prayer_methods (code, method_id, name, fajr_angle, isha_angle, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (code) DO UPDATE SET
			method_id = EXCLUDED.method_id,
			name = EXCLUDED.name,
			fajr_angle = EXCLUDED.fajr_angle,
			isha_angle = EXCLUDED.isha_angle,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		m.Code, m.MethodID, m.Name, m.FajrAngle, m.IshaAngle)
	return scanUpsertOutcome(row, "upsert_method", "prayer_method")
}

// UpsertTimes is idempotent on (loc_key, date, method, school).
func (r *PrayerRepo) UpsertTimes(ctx context.Context, t *PrayerTimes) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO prayer_times (loc_key, date, method, school, fajr, sunrise, dhuhr, asr, maghrib, isha, midnight, hijri_date, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (loc_key, date, method, school) DO UPDATE SET
			fajr = EXCLUDED.fajr,
			sunrise = EXCLUDED.sunrise,
			dhuhr = EXCLUDED.dhuhr,
			asr = EXCLUDED.asr,
			maghrib = EXCLUDED.maghrib,
			isha = EXCLUDED.isha,
			midnight = EXCLUDED.midnight,
			hijri_date = EXCLUDED.hijri_date,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		t.LocKey, t.Date, t.Method, t.School, t.Fajr, t.Sunrise, t.Dhuhr, t.Asr,
		t.Maghrib, t.Isha, nullStr(t.Midnight), nullStr(t.HijriDate))
	return scanUpsertOutcome(row, "upsert_times", "prayer_times")
}

// Locations lists all locations ordered by stable id; the fan-out planner's
// partitioning order.
func (r *PrayerRepo) Locations(ctx context.Context) ([]*PrayerLocation, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, loc_key, latitude, longitude, COALESCE(city,''), COALESCE(country,''),
		       COALESCE(timezone,''), last_synced_at
		FROM prayer_locations ORDER BY id`)
	if err != nil {
		return nil, storageErr("locations", "prayer_location", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*PrayerLocation
	for rows.Next() {
		var l PrayerLocation
		if err := rows.Scan(&l.ID, &l.LocKey, &l.Latitude, &l.Longitude,
			&l.City, &l.Country, &l.Timezone, &l.LastSyncedAt); err != nil {
			return nil, storageErr("locations", "prayer_location", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// Methods lists all methods ordered by name; the fan-out planner's
// enumeration order.
func (r *PrayerRepo) Methods(ctx context.Context) ([]*PrayerMethod, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT code, method_id, name, COALESCE(fajr_angle, 0), COALESCE(isha_angle, 0), last_synced_at
		FROM prayer_methods ORDER BY name`)
	if err != nil {
		return nil, storageErr("methods", "prayer_method", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*PrayerMethod
	for rows.Next() {
		var m PrayerMethod
		if err := rows.Scan(&m.Code, &m.MethodID, &m.Name, &m.FajrAngle, &m.IshaAngle, &m.LastSyncedAt); err != nil {
			return nil, storageErr("methods", "prayer_method", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CountTimes returns the number of stored prayer-times rows.
func (r *PrayerRepo) CountTimes(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prayer_times`).Scan(&n); err != nil {
		return 0, storageErr("count", "prayer_times", err)
	}
	return n, nil
}
