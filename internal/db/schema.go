package db

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
  event_id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  message_type TEXT NOT NULL,
  content TEXT,
  metadata TEXT,
  error_details TEXT,
  response_time_ms INTEGER,
  token_count INTEGER,
  model_used TEXT,
  user_feedback INTEGER,
  trace_id TEXT,
  conversation_id TEXT,
  user_id TEXT,
  ingested_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_aggregates (
  agent_id TEXT NOT NULL,
  date TEXT NOT NULL,
  total_messages INTEGER NOT NULL DEFAULT 0,
  total_responses INTEGER NOT NULL DEFAULT 0,
  total_errors INTEGER NOT NULL DEFAULT 0,
  total_tokens_used INTEGER NOT NULL DEFAULT 0,
  response_time_sum INTEGER NOT NULL DEFAULT 0,
  response_count INTEGER NOT NULL DEFAULT 0,
  feedback_sum INTEGER NOT NULL DEFAULT 0,
  feedback_count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (agent_id, date)
);

CREATE TABLE IF NOT EXISTS aggregate_users (
  agent_id TEXT NOT NULL,
  date TEXT NOT NULL,
  user_id TEXT NOT NULL,
  PRIMARY KEY (agent_id, date, user_id)
);

CREATE TABLE IF NOT EXISTS aggregate_models (
  agent_id TEXT NOT NULL,
  date TEXT NOT NULL,
  model TEXT NOT NULL,
  usage_count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (agent_id, date, model)
);

CREATE INDEX IF NOT EXISTS idx_events_agent_ts ON events (agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events (message_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events (timestamp);
CREATE INDEX IF NOT EXISTS idx_aggregates_date ON daily_aggregates (date);
`
