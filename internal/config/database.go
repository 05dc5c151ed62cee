// internal/config/database.go
package config

import (
	"fmt"
	"net"
)

// DSN renders the key=value connection string understood by the postgres driver.
// Timestamps are stored in UTC so that the YYYYMMDD part of case references
// and the approval year do not depend on the server locale.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}
