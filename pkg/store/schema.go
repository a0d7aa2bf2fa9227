package store

const schema = `
CREATE TABLE IF NOT EXISTS admin_users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	first_name TEXT,
	last_name TEXT,
	role TEXT NOT NULL DEFAULT 'viewer',
	permissions TEXT[] NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	refresh_jti TEXT,
	last_login_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT,
	details JSONB,
	ip TEXT,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id);

CREATE TABLE IF NOT EXISTS rate_limit_rules (
	id BIGSERIAL PRIMARY KEY,
	endpoint_pattern TEXT NOT NULL,
	method TEXT NOT NULL,
	limit_count INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (endpoint_pattern, method)
);

CREATE TABLE IF NOT EXISTS ip_block_rules (
	id BIGSERIAL PRIMARY KEY,
	ip TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	blocked_by TEXT NOT NULL DEFAULT 'system',
	blocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ,
	enabled BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ip_block_enabled ON ip_block_rules(ip) WHERE enabled;

CREATE TABLE IF NOT EXISTS ip_stats (
	ip TEXT PRIMARY KEY,
	request_count BIGINT NOT NULL DEFAULT 0,
	error_count BIGINT NOT NULL DEFAULT 0,
	last_request_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	blocked BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS request_log (
	id BIGSERIAL PRIMARY KEY,
	ip TEXT NOT NULL,
	method TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	latency_ms BIGINT NOT NULL,
	user_agent TEXT,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_request_log_received ON request_log(received_at);
CREATE INDEX IF NOT EXISTS idx_request_log_endpoint ON request_log(endpoint, received_at);

CREATE TABLE IF NOT EXISTS sync_job_log (
	id BIGSERIAL PRIMARY KEY,
	job_name TEXT NOT NULL,
	resource TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'running',
	error_text TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_failed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_job_log_name_resource ON sync_job_log(job_name, resource, started_at DESC);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	job_name TEXT NOT NULL,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 5,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	error_text TEXT,
	metadata JSONB,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(job_type);

CREATE TABLE IF NOT EXISTS job_schedules (
	job_type TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	cron_expr TEXT,
	priority INTEGER NOT NULL DEFAULT 5,
	max_concurrency INTEGER NOT NULL DEFAULT 1,
	timeout_minutes INTEGER NOT NULL DEFAULT 60,
	retry_attempts INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quran_chapters (
	id BIGSERIAL PRIMARY KEY,
	chapter_number INTEGER NOT NULL UNIQUE,
	name_arabic TEXT NOT NULL,
	name_simple TEXT NOT NULL,
	translated_name TEXT,
	revelation_place TEXT,
	verses_count INTEGER NOT NULL,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quran_verses (
	id BIGSERIAL PRIMARY KEY,
	verse_key TEXT NOT NULL UNIQUE,
	chapter_number INTEGER NOT NULL,
	verse_number INTEGER NOT NULL,
	text_uthmani TEXT NOT NULL,
	juz_number INTEGER,
	page_number INTEGER,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_quran_verses_chapter ON quran_verses(chapter_number, verse_number);

CREATE TABLE IF NOT EXISTS translation_resources (
	id BIGSERIAL PRIMARY KEY,
	resource_id INTEGER NOT NULL,
	language_code TEXT NOT NULL,
	name TEXT NOT NULL,
	author_name TEXT,
	slug TEXT,
	placeholder BOOLEAN NOT NULL DEFAULT FALSE,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (resource_id, language_code)
);

CREATE TABLE IF NOT EXISTS hadith_collections (
	id BIGSERIAL PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	hadith_count INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS hadith_books (
	id BIGSERIAL PRIMARY KEY,
	collection_slug TEXT NOT NULL,
	book_number INTEGER NOT NULL,
	name TEXT NOT NULL,
	hadith_count INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (collection_slug, book_number)
);

CREATE TABLE IF NOT EXISTS hadiths (
	id BIGSERIAL PRIMARY KEY,
	collection_slug TEXT NOT NULL,
	book_number INTEGER NOT NULL,
	hadith_number TEXT NOT NULL,
	text_arabic TEXT,
	text_english TEXT,
	grade TEXT,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (collection_slug, book_number, hadith_number)
);

CREATE TABLE IF NOT EXISTS prayer_locations (
	id BIGSERIAL PRIMARY KEY,
	loc_key TEXT NOT NULL UNIQUE,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	city TEXT,
	country TEXT,
	timezone TEXT,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS prayer_methods (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	method_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	fajr_angle DOUBLE PRECISION,
	isha_angle DOUBLE PRECISION,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS prayer_times (
	id BIGSERIAL PRIMARY KEY,
	loc_key TEXT NOT NULL,
	date DATE NOT NULL,
	method TEXT NOT NULL,
	school INTEGER NOT NULL,
	fajr TEXT NOT NULL,
	sunrise TEXT NOT NULL,
	dhuhr TEXT NOT NULL,
	asr TEXT NOT NULL,
	maghrib TEXT NOT NULL,
	isha TEXT NOT NULL,
	midnight TEXT,
	hijri_date TEXT,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (loc_key, date, method, school)
);

CREATE TABLE IF NOT EXISTS gold_prices (
	id BIGSERIAL PRIMARY KEY,
	price_date DATE NOT NULL,
	carat INTEGER NOT NULL,
	price_per_gram NUMERIC(12,4) NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (price_date, carat, currency)
);

CREATE TABLE IF NOT EXISTS reciters (
	id BIGSERIAL PRIMARY KEY,
	reciter_id INTEGER NOT NULL UNIQUE,
	name TEXT NOT NULL,
	style TEXT,
	relative_path TEXT,
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS zakat_params (
	id BIGSERIAL PRIMARY KEY,
	param_date DATE NOT NULL UNIQUE,
	nisab_gold_grams NUMERIC(10,4) NOT NULL,
	nisab_silver_grams NUMERIC(10,4) NOT NULL,
	nisab_threshold NUMERIC(14,4) NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	last_synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
