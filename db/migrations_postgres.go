package db

// PostgreSQL migrations for the writer service

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_writer_run_states_table",
		Up: `
			CREATE TABLE IF NOT EXISTS writer_run_states (
				run_id TEXT PRIMARY KEY,
				keyword TEXT NOT NULL,
				stage TEXT NOT NULL,
				state JSONB NOT NULL,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_writer_run_states_stage ON writer_run_states(stage);
			CREATE INDEX IF NOT EXISTS idx_writer_run_states_updated_at ON writer_run_states(updated_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_writer_run_states_updated_at;
			DROP INDEX IF EXISTS idx_writer_run_states_stage;
			DROP TABLE IF EXISTS writer_run_states;
		`,
	},
	{
		Version: 2,
		Name:    "create_writer_articles_table",
		Up: `
			CREATE TABLE IF NOT EXISTS writer_articles (
				id TEXT PRIMARY KEY,
				run_id TEXT NOT NULL UNIQUE,
				keyword TEXT NOT NULL,
				title TEXT NOT NULL,
				slug TEXT NOT NULL,
				storage_path TEXT NOT NULL,
				success BOOLEAN NOT NULL DEFAULT FALSE,
				final_score DOUBLE PRECISION NOT NULL DEFAULT 0,
				scores JSONB NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_writer_articles_keyword ON writer_articles(keyword);
			CREATE INDEX IF NOT EXISTS idx_writer_articles_created_at ON writer_articles(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_writer_articles_created_at;
			DROP INDEX IF EXISTS idx_writer_articles_keyword;
			DROP TABLE IF EXISTS writer_articles;
		`,
	},
	{
		Version: 3,
		Name:    "add_writer_articles_slug_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_writer_articles_slug ON writer_articles(slug);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_writer_articles_slug;
		`,
	},
}
