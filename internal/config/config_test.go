package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DB_PASSWORD", "s3cret")
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, DriverPostgres, cfg.Database.Driver)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "s3cret", cfg.Database.Password)
				assert.Equal(t, "extraction_db", cfg.Database.Database)
				assert.True(t, cfg.RabbitMQ.Enabled)
				assert.Equal(t, "extraction_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, 15*time.Second, cfg.Redis.StatisticsTTL)
				assert.Equal(t, 4, cfg.Worker.Concurrency)
				assert.Equal(t, 2*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, 50, cfg.Contacts.PageSize)
				assert.Equal(t, "contacts-extractor", cfg.App.Name)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/sqlite.yaml")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "data/extraction.db", cfg.Database.Path)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, "https://api.hubapi.com", cfg.Contacts.BaseURL)
	assert.Equal(t, "pat-", cfg.Extraction.TokenPrefix)
	assert.Equal(t, 10, cfg.Extraction.MinTokenLength)
	assert.Equal(t, 10, cfg.Pagination.DefaultLimit)
	assert.Equal(t, 100, cfg.Pagination.MaxLimit)

	require.NoError(t, cfg.Validate())
}

// validConfig returns a configuration that passes Validate
func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "extraction_db",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    5672,
			Exchange: ExchangeConfig{
				Name: "extraction_events",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database.Driver = DriverSQLite },
			wantErr:   true,
			errString: "database path is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "rabbitmq disabled skips its checks",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: false}
			},
			wantErr: false,
		},
		{
			name:      "redis without addr",
			mutate:    func(c *Config) { c.Redis.Enabled = true },
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "page size above upstream maximum",
			mutate:    func(c *Config) { c.Contacts.PageSize = 500 },
			wantErr:   true,
			errString: "page_size",
		},
		{
			name:      "max limit below default",
			mutate:    func(c *Config) { c.Pagination.MaxLimit = 5 },
			wantErr:   true,
			errString: "max_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}

func TestConfig_ValidateListener(t *testing.T) {
	tests := []struct {
		name      string
		rabbit    RabbitMQConfig
		errString string
	}{
		{
			name:   "enabled with queue",
			rabbit: RabbitMQConfig{Enabled: true, Queue: QueueConfig{Name: "extraction_events_audit"}},
		},
		{
			name:      "disabled",
			rabbit:    RabbitMQConfig{Queue: QueueConfig{Name: "extraction_events_audit"}},
			errString: "rabbitmq must be enabled",
		},
		{
			name:      "missing queue",
			rabbit:    RabbitMQConfig{Enabled: true},
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RabbitMQ: tt.rabbit}
			err := cfg.ValidateListener()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			assert.NoError(t, err)
		})
	}
}
