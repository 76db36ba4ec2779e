package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const maxBatchSize = 10000

// Config holds the configuration for the export tool.
type Config struct {
	// Source database
	SQLitePath string

	// Target database, either a DSN or individual components
	MySQLDSN      string
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPass     string
	MySQLDatabase string

	BatchSize  int
	DropTables bool
	Clean      bool
	SkipVerify bool
	Verbose    bool

	// markertrack config.yaml used when --sqlite-path is not given
	ConfigPath string
}

// Load validates the configuration, falling back to config.yaml for the
// source path.
func (c *Config) Load() error {
	if c.SQLitePath == "" {
		if err := c.loadFromConfigFile(); err != nil || c.SQLitePath == "" {
			return fmt.Errorf("--sqlite-path is required (or provide config.yaml with output.sqlite.path)")
		}
	}

	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > maxBatchSize {
		return fmt.Errorf("batch-size too large (max %d)", maxBatchSize)
	}

	if c.MySQLDSN == "" && (c.MySQLHost == "" || c.MySQLDatabase == "") {
		return fmt.Errorf("--mysql-dsn or --mysql-host with --mysql-database is required")
	}

	return nil
}

// loadFromConfigFile reads output.sqlite.path from a markertrack config file.
func (c *Config) loadFromConfigFile() error {
	v := viper.New()

	configPath := c.ConfigPath
	if configPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(homeDir, ".config", "markertrack", "config.yaml")
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
			}
		}
		if configPath == "" {
			configPath = "config.yaml"
		}
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if path := v.GetString("output.sqlite.path"); path != "" {
		// relative paths in the config are relative to the config file
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		c.SQLitePath = path
	}

	return nil
}

// GetMySQLDSN returns MySQLDSN as-is when set, otherwise one built from the
// individual components.
func (c *Config) GetMySQLDSN() string {
	if c.MySQLDSN != "" {
		return c.MySQLDSN
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.MySQLUser,
		c.MySQLPass,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetSanitizedMySQLDSN returns the MySQL DSN with the password masked.
func (c *Config) GetSanitizedMySQLDSN() string {
	dsn := c.GetMySQLDSN()

	if idx := strings.Index(dsn, ":"); idx != -1 {
		if atIdx := strings.LastIndex(dsn, "@"); atIdx != -1 && atIdx > idx {
			return dsn[:idx+1] + "****" + dsn[atIdx:]
		}
	}

	return dsn
}
