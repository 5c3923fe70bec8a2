package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config describes the broker connection.
type Config struct {
	Broker               string        `yaml:"broker"`
	ClientID             string        `yaml:"client_id"`
	Username             string        `yaml:"username"`
	Password             string        `yaml:"password"`
	CAFile               string        `yaml:"ca_file"`
	CertFile             string        `yaml:"cert_file"`
	KeyFile              string        `yaml:"key_file"`
	InsecureSkipVerify   bool          `yaml:"insecure_skip_verify"`
	QoS                  *byte         `yaml:"qos"`
	KeepAlive            time.Duration `yaml:"keep_alive"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.QoS == nil {
		qos := byte(1)
		c.QoS = &qos
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetryInterval <= 0 {
		c.ConnectRetryInterval = 5 * time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = 2 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if q := c.QoSLevel(); q > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", q)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}
	return nil
}

// QoSLevel is the configured QoS; unset reads as 1.
func (c *Config) QoSLevel() byte {
	if c.QoS == nil {
		return 1
	}
	return *c.QoS
}

func (c *Config) usesTLS() bool {
	b := strings.ToLower(c.Broker)
	return strings.HasPrefix(b, "tls://") || strings.HasPrefix(b, "ssl://") ||
		strings.HasPrefix(b, "mqtts://") || strings.HasPrefix(b, "wss://") ||
		c.CAFile != "" || c.CertFile != ""
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify, MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
