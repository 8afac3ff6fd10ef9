package main

import (
	"log/slog"
	"path/filepath"
	"time"
)

type serverConfig struct {
	Port             uint16        `envconfig:"MX_PORT" default:"45678"`
	CipherPassword   string        `envconfig:"MX_CIPHER_PASSWORD" required:"true"`
	KeystorePath     string        `envconfig:"MX_KEYSTORE" required:"true"`
	KeystorePassword string        `envconfig:"MX_KEYSTORE_PASSWORD" required:"true"`
	DataDir          string        `envconfig:"MX_DATA_DIR" default:"."`
	AdminAddr        string        `envconfig:"MX_ADMIN_ADDR" default:""`
	LogLevel         slog.Level    `envconfig:"MX_LOG_LEVEL" default:"info"`
	ShutdownTimeout  time.Duration `envconfig:"MX_SHUTDOWN_TIMEOUT" default:"10s"`
}

func (c serverConfig) ledgerDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c serverConfig) certDir() string {
	return filepath.Join(c.DataDir, "certificates")
}

func (c serverConfig) certIndexPath() string {
	return filepath.Join(c.DataDir, "resources", "users.txt")
}
