package instruments

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/finverse/feedrelay/internal/config"
)

// BuildConnString renders the pgx connection string for the instrument
// store. The pool bounds travel in the string so ParseConfig picks them
// up, and application_name identifies relay connections in
// pg_stat_activity.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("application_name", "feedrelay")
	if cfg.MinConns > 0 {
		params.Set("pool_min_conns", strconv.Itoa(cfg.MinConns))
	}
	if cfg.MaxConns > 0 {
		params.Set("pool_max_conns", strconv.Itoa(cfg.MaxConns))
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		params.Encode(),
	)
}
