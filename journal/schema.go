package journal

import (
	"fmt"
	"regexp"
)

var sessionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const priceSchema = `
CREATE TABLE IF NOT EXISTS price_history (
	pair TEXT NOT NULL,
	unix_time INTEGER NOT NULL,
	price REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_pair_time ON price_history(pair, unix_time);
`

// Table names are derived from the session name, which is validated
// before it is interpolated.
func instanceTable(session string) string { return session }
func tradeTable(session string) string { return "trading_history_" + session }

func sessionSchema(session string) (string, error) {
	if !sessionName.MatchString(session) {
		return "", fmt.Errorf("invalid session name %q", session)
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	pair TEXT NOT NULL,
	creation_time INTEGER NOT NULL,
	state INTEGER NOT NULL,
	position TEXT NOT NULL,
	amount REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	is_executed INTEGER NOT NULL,
	is_expired INTEGER NOT NULL,
	live_position INTEGER NOT NULL,
	days_elapsed INTEGER NOT NULL,
	leverage INTEGER NOT NULL,
	long_allowed INTEGER NOT NULL,
	short_allowed INTEGER NOT NULL,
	settings TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_expired ON %[1]s(is_expired);

CREATE TABLE IF NOT EXISTS %[2]s (
	trade_id TEXT PRIMARY KEY,
	trade_time INTEGER NOT NULL,
	instance_id TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	pair TEXT NOT NULL,
	asset TEXT NOT NULL,
	enter_exit TEXT NOT NULL,
	position TEXT NOT NULL,
	amount REAL NOT NULL,
	price REAL NOT NULL,
	leverage INTEGER NOT NULL,
	portfolio_balance TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_time ON %[2]s(trade_time);
`, instanceTable(session), tradeTable(session)), nil
}
