package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid config",
			cfg: Config{
				Enabled:      true,
				Address:      "http://localhost:8080",
				BatchSize:    100,
				MaxQueueSize: 1000,
				Workers:      1,
			},
		},
		{
			name: "disabled config is not validated",
			cfg:  Config{},
		},
		{
			name:    "missing address",
			cfg:     Config{Enabled: true},
			wantErr: "http address is required",
		},
		{
			name: "invalid compression",
			cfg: Config{
				Enabled:     true,
				Address:     "http://localhost:8080",
				Compression: "brotli",
			},
			wantErr: "invalid compression type",
		},
		{
			name: "batch size above queue size",
			cfg: Config{
				Enabled:      true,
				Address:      "http://localhost:8080",
				BatchSize:    1000,
				MaxQueueSize: 100,
			},
			wantErr: "batch_size cannot be greater",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Enabled: true, Address: "http://x"}
	cfg.ApplyDefaults()

	assert.Equal(t, CompressionGzip, cfg.Compression)
	assert.Equal(t, 512, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 30*time.Second, cfg.ExportTimeout)
	assert.Equal(t, 51200, cfg.MaxQueueSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.IsKeepAlive())

	off := false
	cfg.KeepAlive = &off
	assert.False(t, cfg.IsKeepAlive())
}
