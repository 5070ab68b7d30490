package postgres

// Migrations — схема БД по порядку применения.
// SQL встроен в код для упрощения деплоя.
var Migrations = []Migration{
	{Version: 1, SQL: migration001Groups},
	{Version: 2, SQL: migration002CreditTransactions},
	{Version: 3, SQL: migration003GenerationJobs},
}

var migration001Groups = `
CREATE TABLE IF NOT EXISTS groups (
    group_id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(255) NOT NULL DEFAULT '',
    chat_type VARCHAR(32) NOT NULL DEFAULT '',
    credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
    creator_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_groups_creator ON groups(creator_id);
`

var migration002CreditTransactions = `
CREATE TABLE IF NOT EXISTS credit_transactions (
    transaction_key VARCHAR(128) PRIMARY KEY,
    group_id VARCHAR(64) NOT NULL,
    credits BIGINT NOT NULL CHECK (credits > 0),
    status VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'confirmed')),
    transaction_hash VARCHAR(255),
    network VARCHAR(64),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    confirmed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_tx_hash
    ON credit_transactions(transaction_hash) WHERE transaction_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_credit_tx_group ON credit_transactions(group_id);
`

var migration003GenerationJobs = `
CREATE TABLE IF NOT EXISTS generation_jobs (
    request_id UUID PRIMARY KEY,
    group_id VARCHAR(64) NOT NULL REFERENCES groups(group_id),
    cost BIGINT NOT NULL CHECK (cost > 0),
    video_id VARCHAR(128),
    prompt_text TEXT NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'queued',
    progress INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    result_url TEXT NOT NULL DEFAULT '',
    settlement VARCHAR(16) NOT NULL DEFAULT 'reserved'
        CHECK (settlement IN ('reserved', 'charged', 'refunded')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    settled_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_jobs_video
    ON generation_jobs(video_id) WHERE video_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_generation_jobs_reserved
    ON generation_jobs(created_at) WHERE settlement = 'reserved';
`
