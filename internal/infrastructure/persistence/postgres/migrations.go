package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESSION TABLES
// ══════════════════════════════════════════════════════════════════════════════

// Range rules (level >= 1, progress 0..100, non-negative streaks) are enforced
// by the integrity checker, not by CHECK constraints, so drifted rows stay
// readable and reportable.
const migration001Up = `
-- Migration: Create characters, habits and goals
-- Version: 001

CREATE TABLE IF NOT EXISTS characters (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 1,
    experience INTEGER NOT NULL DEFAULT 0,
    attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
    custom_attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
    achievements TEXT[] NOT NULL DEFAULT '{}',
    accessories TEXT[] NOT NULL DEFAULT '{}',
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_characters_user_id ON characters(user_id, created_at);

CREATE TABLE IF NOT EXISTS habits (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    frequency VARCHAR(20) NOT NULL,
    attribute TEXT NOT NULL DEFAULT '',
    experience_reward INTEGER NOT NULL DEFAULT 10,
    completions TIMESTAMP WITH TIME ZONE[] NOT NULL DEFAULT '{}',
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_habits_user_id ON habits(user_id);
CREATE INDEX IF NOT EXISTS idx_habits_character_id ON habits(character_id);

CREATE TABLE IF NOT EXISTS goals (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    progress INTEGER NOT NULL DEFAULT 0,
    completed_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_goals_user_id ON goals(user_id);
CREATE INDEX IF NOT EXISTS idx_goals_character_id ON goals(character_id);
`

const migration001Down = `
DROP TABLE IF EXISTS goals;
DROP TABLE IF EXISTS habits;
DROP TABLE IF EXISTS characters;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE EXPERIENCE LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create experience_log
-- Version: 002

CREATE TABLE IF NOT EXISTS experience_log (
    id TEXT PRIMARY KEY,
    character_id TEXT NOT NULL,
    amount INTEGER NOT NULL,
    source VARCHAR(20) NOT NULL,
    leveled_up BOOLEAN NOT NULL DEFAULT FALSE,
    request_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_amount CHECK (amount > 0),
    CONSTRAINT valid_source CHECK (source IN ('habit', 'goal', 'manual', 'bonus'))
);

CREATE INDEX IF NOT EXISTS idx_experience_log_character ON experience_log(character_id, created_at);

-- A request id is applied at most once even if the Redis claim expired.
CREATE UNIQUE INDEX IF NOT EXISTS idx_experience_log_request
    ON experience_log(character_id, request_id) WHERE request_id <> '';
`

const migration002Down = `
DROP TABLE IF EXISTS experience_log;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: VERSION HABITS AND GOALS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Optimistic versions for habits and goals
-- Version: 003

ALTER TABLE habits ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
ALTER TABLE goals ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
`

const migration003Down = `
ALTER TABLE goals DROP COLUMN IF EXISTS version;
ALTER TABLE habits DROP COLUMN IF EXISTS version;
`
