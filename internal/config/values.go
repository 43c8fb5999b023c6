package config

import "strconv"

// Values flattens the scalar settings into dotted key paths such as
// "limits.minute" or "redis.prefix".
func (c *Config) Values() map[string]any {
	return map[string]any{
		"app.env":         c.App.Env,
		"app.log_level":   c.App.LogLevel,
		"limits.hourly":   c.Rate.Hourly,
		"limits.minute":   c.Rate.Minute,
		"limits.second":   c.Rate.Second,
		"redis.host":      c.Redis.Host,
		"redis.port":      c.Redis.Port,
		"redis.database":  c.Redis.DB,
		"redis.prefix":    c.Redis.Prefix,
		"redis.pool_size": c.Redis.PoolSize,
		"block.duration":  int64(c.Rate.BlockDuration.Seconds()),
	}
}

// Value looks up a setting by dotted key path.
func (c *Config) Value(key string) (any, bool) {
	v, ok := c.Values()[key]
	return v, ok
}

// Int looks up a numeric setting by dotted key path. Strings holding an
// integer are converted; anything else reports false.
func (c *Config) Int(key string) (int64, bool) {
	v, ok := c.Value(key)
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
