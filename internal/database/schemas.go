package database

// Embedded schemas, keyed by database name. Every statement is additive
// and IF NOT EXISTS-guarded so Migrate can run on every open.
//
// fleet: this system's durable state. All writes funnel through the
// repositories; no other component opens a handle.
//
// signals: the coin-intelligence store populated by the external
// ingester. The controller treats coins and coin_analytics as a
// read-only contract and writes only coin_watchlist.
var schemas = map[string]string{
	"fleet": fleetSchema,

	"signals": signalSchema,
}

const fleetSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    name                  TEXT NOT NULL UNIQUE,
    address               TEXT NOT NULL UNIQUE,
    owner_address         TEXT NOT NULL,
    provider_account_name TEXT NOT NULL,
    type                  TEXT NOT NULL DEFAULT 'smart',
    is_master             INTEGER NOT NULL DEFAULT 0,
    created_at            INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_single_master
    ON wallets(is_master) WHERE is_master = 1;

CREATE TABLE IF NOT EXISTS clusters (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL UNIQUE,
    strategy_mode TEXT NOT NULL DEFAULT 'sync',
    created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cluster_wallets (
    cluster_id INTEGER NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
    wallet_id  INTEGER NOT NULL REFERENCES wallets(id),
    position   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (cluster_id, wallet_id)
);

CREATE TABLE IF NOT EXISTS operations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    type          TEXT NOT NULL,
    cluster_id    INTEGER NOT NULL REFERENCES clusters(id),
    status        TEXT NOT NULL DEFAULT 'pending',
    requested_by  TEXT NOT NULL,
    approved_by   TEXT,
    payload_json  TEXT NOT NULL,
    result_json   TEXT,
    error_message TEXT,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operations_cluster_status
    ON operations(cluster_id, status);
CREATE INDEX IF NOT EXISTS idx_operations_created
    ON operations(created_at DESC);

CREATE TABLE IF NOT EXISTS trades (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet_id     INTEGER NOT NULL REFERENCES wallets(id),
    from_token    TEXT NOT NULL,
    to_token      TEXT NOT NULL,
    amount_in     TEXT NOT NULL,
    amount_out    TEXT,
    user_op_hash  TEXT,
    tx_hash       TEXT,
    status        TEXT NOT NULL,
    error_message TEXT,
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_id);

CREATE TABLE IF NOT EXISTS funding_txs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet_id     INTEGER NOT NULL REFERENCES wallets(id),
    amount_wei    TEXT NOT NULL,
    user_op_hash  TEXT,
    tx_hash       TEXT,
    status        TEXT NOT NULL,
    error_message TEXT,
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_funding_wallet ON funding_txs(wallet_id);

CREATE TABLE IF NOT EXISTS positions (
    wallet_id          INTEGER NOT NULL REFERENCES wallets(id),
    coin_address       TEXT NOT NULL,
    total_cost_wei     TEXT NOT NULL DEFAULT '0',
    total_received_wei TEXT NOT NULL DEFAULT '0',
    holdings_raw       TEXT NOT NULL DEFAULT '0',
    buy_count          INTEGER NOT NULL DEFAULT 0,
    sell_count         INTEGER NOT NULL DEFAULT 0,
    first_action_at    INTEGER NOT NULL,
    last_action_at     INTEGER NOT NULL,
    PRIMARY KEY (wallet_id, coin_address)
);

CREATE INDEX IF NOT EXISTS idx_positions_coin ON positions(coin_address);

CREATE TABLE IF NOT EXISTS swing_configs (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    fleet_name        TEXT NOT NULL,
    coin_address      TEXT NOT NULL,
    take_profit_bps   INTEGER NOT NULL,
    stop_loss_bps     INTEGER NOT NULL,
    trailing_stop_bps INTEGER,
    cooldown_sec      INTEGER NOT NULL DEFAULT 0,
    slippage_bps      INTEGER NOT NULL DEFAULT 100,
    enabled           INTEGER NOT NULL DEFAULT 1,
    peak_pnl_bps      INTEGER,
    last_action_at    INTEGER,
    UNIQUE (fleet_name, coin_address)
);
`

const signalSchema = `
CREATE TABLE IF NOT EXISTS coins (
    address    TEXT PRIMARY KEY,
    symbol     TEXT,
    name       TEXT,
    chain_id   INTEGER,
    coin_url   TEXT,
    volume_24h REAL
);

CREATE TABLE IF NOT EXISTS coin_analytics (
    coin_address     TEXT PRIMARY KEY REFERENCES coins(address),
    momentum_score   REAL NOT NULL DEFAULT 0,
    swap_count_24h   INTEGER NOT NULL DEFAULT 0,
    net_flow_usdc_24h REAL NOT NULL DEFAULT 0,
    updated_at       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_analytics_momentum
    ON coin_analytics(momentum_score DESC);

CREATE TABLE IF NOT EXISTS coin_watchlist (
    list_name    TEXT NOT NULL,
    coin_address TEXT NOT NULL,
    enabled      INTEGER NOT NULL DEFAULT 1,
    added_at     INTEGER,
    PRIMARY KEY (list_name, coin_address)
);
`
