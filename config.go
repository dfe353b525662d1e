package httpengine

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/header"
	"github.com/unkn0wn-root/httpengine/httpspec"
)

// fileConfiguration is the on-disk shape of a Configuration, ambient
// config loading grounded on the corpus's convention of a small YAML
// struct decoded straight into the runtime type it configures.
type fileConfiguration struct {
	SSLVerifyPeer  *bool             `yaml:"ssl_verify_peer"`
	SSLVerifyHost  *bool             `yaml:"ssl_verify_host"`
	RootCAs        []string          `yaml:"root_cas"`
	RootCAAppend   bool              `yaml:"root_ca_append"`
	ClientCertPath string            `yaml:"client_cert_path"`
	ClientKeyPath  string            `yaml:"client_key_path"`
	SpeedLimit     int64             `yaml:"speed_limit"`
	SpeedDuration  time.Duration     `yaml:"speed_duration"`
	Timeout        time.Duration     `yaml:"timeout"`
	ProxyURL       string            `yaml:"proxy_url"`
	NoProxy        []string          `yaml:"no_proxy"`
	Headers        map[string]string `yaml:"headers"`
}

// LoadConfiguration reads a YAML file into a Configuration, starting from
// httpspec.DefaultConfiguration so a file only needs to name the fields
// it overrides.
func LoadConfiguration(path string) (httpspec.Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return httpspec.Configuration{}, errdef.Wrap(errdef.CodeBadSetup, err, "read configuration file %s", path)
	}

	var fc fileConfiguration
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return httpspec.Configuration{}, errdef.Wrap(errdef.CodeBadSetup, err, "parse configuration file %s", path)
	}

	cfg := httpspec.DefaultConfiguration()
	if fc.SSLVerifyPeer != nil {
		cfg.SSLVerifyPeer = *fc.SSLVerifyPeer
	}
	if fc.SSLVerifyHost != nil {
		cfg.SSLVerifyHost = *fc.SSLVerifyHost
	}
	cfg.RootCAs = fc.RootCAs
	cfg.RootCAAppend = fc.RootCAAppend
	cfg.ClientCertPath = fc.ClientCertPath
	cfg.ClientKeyPath = fc.ClientKeyPath
	if fc.SpeedLimit != 0 {
		cfg.SpeedLimit = fc.SpeedLimit
	}
	if fc.SpeedDuration != 0 {
		cfg.SpeedDuration = fc.SpeedDuration
	}
	cfg.Timeout = fc.Timeout
	cfg.ProxyURL = fc.ProxyURL
	cfg.NoProxy = fc.NoProxy

	if len(fc.Headers) > 0 {
		cfg.Header = header.New()
		for k, v := range fc.Headers {
			cfg.Header.Set(k, v)
		}
	}
	return cfg, nil
}
