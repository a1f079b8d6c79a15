package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the belfry server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	// Debug seeds the sample resources at startup so every lifecycle
	// variant is available without minting tokens.
	Debug bool `hcl:"debug,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Bell      *BellBlock      `hcl:"bell,block"`
	Admin     *AdminBlock     `hcl:"admin,block"`
}

type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem" or "redis"

	// Redis storage specific config
	Address  string `hcl:"address,optional"`
	Password string `hcl:"password,optional"`
	Database int    `hcl:"database,optional"`
}

// Config returns the storage configuration as a map
func (s *StorageBlock) Config() map[string]string {
	config := make(map[string]string)

	config["type"] = s.Type

	if s.Address != "" {
		config["address"] = s.Address
	}
	if s.Password != "" {
		config["password"] = s.Password
	}
	if s.Database != 0 {
		config["database"] = fmt.Sprintf("%d", s.Database)
	}

	return config
}

// BellBlock configures the physical bell.
type BellBlock struct {
	// RingCommand is executed with the ring duration in milliseconds as
	// its single argument.
	RingCommand string `hcl:"ring_command"`

	// GraceMilliseconds is how long past the requested duration the
	// command may run before it is killed.
	GraceMilliseconds int `hcl:"grace_milliseconds,optional"`
}

// AdminBlock configures the administration UI.
type AdminBlock struct {
	Username string `hcl:"username"`
	Password string `hcl:"password"`

	// CookieSecret signs the admin session cookie. Generated at startup
	// when left empty, which invalidates sessions across restarts.
	CookieSecret string `hcl:"cookie_secret,optional"`
}

type ListenerBlock struct {
	Name            string `hcl:"name,label"`
	Protocol        string `hcl:"protocol"`
	Address         string `hcl:"address"`
	TLSCertFile     string `hcl:"tls_cert_file,optional"`
	TLSKeyFile      string `hcl:"tls_key_file,optional"`
	TLSClientCAFile string `hcl:"tls_client_ca_file,optional"`
	TLSEnabled      bool   `hcl:"tls_enabled,optional"`
}

func LoadConfig(configFile string) (*Config, error) {
	var config Config

	err := hclsimple.DecodeFile(configFile, nil, &config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the blocks a server cannot run without.
func (c *Config) Validate() error {
	if c.Storage == nil {
		return fmt.Errorf("a storage block is required")
	}
	if c.Bell == nil || c.Bell.RingCommand == "" {
		return fmt.Errorf("a bell block with a ring_command is required")
	}
	if c.Admin == nil || c.Admin.Username == "" || c.Admin.Password == "" {
		return fmt.Errorf("an admin block with username and password is required")
	}
	if len(c.Listeners) == 0 {
		return fmt.Errorf("at least one listener block is required")
	}
	return nil
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for _, listener := range c.Listeners {
		if listener.Name == name {
			return &listener, nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}

// GetApiListener is a convenience method to get the Api listener
func (c *Config) GetApiListener() (*ListenerBlock, error) {
	return c.GetListenerByName("api")
}
