package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id BIGINT PRIMARY KEY,
    daily_tokens BIGINT NOT NULL DEFAULT 0,
    last_reset DATE NOT NULL DEFAULT CURRENT_DATE,
    total_spent DOUBLE PRECISION NOT NULL DEFAULT 0,
    input_tokens BIGINT NOT NULL DEFAULT 0,
    output_tokens BIGINT NOT NULL DEFAULT 0,
    subscription_plan TEXT NOT NULL DEFAULT 'free',
    subscription_start_date TIMESTAMPTZ,
    subscription_end_date TIMESTAMPTZ,
    trial_used BOOLEAN NOT NULL DEFAULT FALSE,
    auto_renewal BOOLEAN NOT NULL DEFAULT FALSE,
    web_search_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    current_assistant TEXT NOT NULL DEFAULT '',
    referrer_id BIGINT,
    invited_users INT NOT NULL DEFAULT 0,
    payment_method_id TEXT,
    email TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_history (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_history_chat_id ON chat_history (chat_id, id DESC);

CREATE TABLE IF NOT EXISTS assistants (
    assistant_key TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    prompt TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(user_id),
    provider TEXT NOT NULL,
    provider_payment_charge_id TEXT,
    currency TEXT NOT NULL,
    amount INT NOT NULL,
    status TEXT NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
