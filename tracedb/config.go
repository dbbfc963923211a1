// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracedb

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ConfigFileDescription describes the configuration file format.
const ConfigFileDescription = `File must contain a JSON object of the following form:
   {
    "dataSourceName": "[username[:password]@][protocol[(address)]]/dbname", (the connection string required by go-sql-driver; database name must be specified, query parameters are not supported)
    "table": "kernel_events", (optional, the table events are written to)
    "tlsDisable": "false|true", (defaults to false; if set to true, uses an unencrypted connection; otherwise, the following fields are mandatory)
    "tlsServerName": "serverName", (the domain name of the SQL server for TLS)
    "rootCertPath": "/path/server-ca.pem", (the root certificate of the SQL server for TLS)
    "clientCertPath": "/path/client-cert.pem", (the client certificate for TLS)
    "clientKeyPath": "/path/client-key.pem" (the client private key for TLS)
   }`

// DefaultTable is the table events are written to unless configured
// otherwise.
const DefaultTable = "kernel_events"

// Config holds the fields needed to connect to the trace database.
type Config struct {
	// DataSourceName is the connection string as required by go-sql-driver.
	DataSourceName string `json:"dataSourceName"`
	Table          string `json:"table"`
	// TLSDisable, if set to true, uses an unencrypted connection;
	// otherwise, the following fields are mandatory.
	TLSDisable     bool   `json:"tlsDisable"`
	TLSServerName  string `json:"tlsServerName"`
	RootCertPath   string `json:"rootCertPath"`
	ClientCertPath string `json:"clientCertPath"`
	ClientKeyPath  string `json:"clientKeyPath"`

	// tlsConfigIdentifier is the name the TLS configuration is registered
	// under with go-sql-driver: a hash of the configuration file path and
	// contents.
	tlsConfigIdentifier string
}

// ParseConfigFile parses the configuration file (format described in
// ConfigFileDescription) and registers its TLS configuration with
// go-sql-driver.
func ParseConfigFile(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed reading trace database config file %q: %v", file, err)
	}
	return ParseConfig(file, data)
}

// ParseConfig is like ParseConfigFile, but is given the file's contents.
func ParseConfig(file string, data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed parsing trace database config file %q: %v", file, err)
	}
	dsn, err := mysql.ParseDSN(config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("%q: invalid dataSourceName: %v", file, err)
	}
	if len(dsn.DBName) == 0 {
		return nil, fmt.Errorf("%q: dataSourceName must name a database", file)
	}
	if len(dsn.Params) > 0 {
		return nil, fmt.Errorf("%q: dataSourceName must not have query parameters", file)
	}
	if len(config.Table) == 0 {
		config.Table = DefaultTable
	}
	if !config.TLSDisable {
		rawHash := sha256.Sum256(append([]byte(file+":"), data...))
		config.tlsConfigIdentifier = hex.EncodeToString(rawHash[:])
		if err := registerTLSConfig(&config); err != nil {
			return nil, fmt.Errorf("failed registering TLS config from %q: %v", file, err)
		}
	}
	return &config, nil
}

// DSN returns the connection string for config: utf8mb4, UTC, time
// values parsed into time.Time and the registered TLS configuration.
func (config *Config) DSN() (string, error) {
	dsn, err := mysql.ParseDSN(config.DataSourceName)
	if err != nil {
		return "", err
	}
	dsn.Collation = "utf8mb4_general_ci"
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Params = map[string]string{"time_zone": "'+00:00'"}
	if !config.TLSDisable {
		dsn.TLSConfig = config.tlsConfigIdentifier
	}
	return dsn.FormatDSN(), nil
}

// Open opens and pings the trace database.
func Open(config *Config) (*sql.DB, error) {
	dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening database connection at %q: %v", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed connecting to database at %q: %v", dsn, err)
	}
	return db, nil
}

func registerTLSConfig(config *Config) error {
	rootCertPool := x509.NewCertPool()
	pem, err := os.ReadFile(config.RootCertPath)
	if err != nil {
		return fmt.Errorf("failed reading root certificate: %v", err)
	}
	if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
		return fmt.Errorf("failed to append PEM to cert pool")
	}
	ckpair, err := tls.LoadX509KeyPair(config.ClientCertPath, config.ClientKeyPath)
	if err != nil {
		return fmt.Errorf("failed loading client key pair: %v", err)
	}
	return mysql.RegisterTLSConfig(config.tlsConfigIdentifier, &tls.Config{
		RootCAs:      rootCertPool,
		Certificates: []tls.Certificate{ckpair},
		ServerName:   config.TLSServerName,
		MinVersion:   tls.VersionTLS12,
	})
}
