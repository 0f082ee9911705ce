package keyvault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TokenConfig holds token or service configuration for a provider.
//
// A token may be identified either by serial number or label. If
// both are specified then the first match wins.
type TokenConfig interface {
	// Manufacturer name of the manufacturer
	Manufacturer() string

	// Model name of the device
	Model() string

	// Full path to PKCS#11 library, or a service endpoint
	Path() string

	// Token serial number
	TokenSerial() string

	// Token label
	TokenLabel() string

	// Pin is a secret to access the token.
	// If it's prefixed with `file:`, it is loaded from the file;
	// with `env:`, from the environment variable.
	Pin() string

	// Comma separated key=value pairs of attributes
	// (e.g. "KeyPrefix=x,Endpoint=y")
	Attributes() string
}

type tokenConfig struct {
	Man    string `json:"Manufacturer" yaml:"manufacturer"`
	Mod    string `json:"Model"        yaml:"model"`
	Dir    string `json:"Path"         yaml:"path"`
	Serial string `json:"TokenSerial"  yaml:"token_serial"`
	Label  string `json:"TokenLabel"   yaml:"token_label"`
	Pwd    string `json:"Pin"          yaml:"pin"`
	Attrs  string `json:"Attributes"   yaml:"attributes"`
}

// Manufacturer name of the manufacturer
func (c *tokenConfig) Manufacturer() string {
	return c.Man
}

// Model name of the device
func (c *tokenConfig) Model() string {
	return c.Mod
}

// Path to PKCS#11 library, or a service endpoint
func (c *tokenConfig) Path() string {
	return c.Dir
}

// TokenSerial is the token serial number
func (c *tokenConfig) TokenSerial() string {
	return c.Serial
}

// TokenLabel is the token label
func (c *tokenConfig) TokenLabel() string {
	return c.Label
}

// Pin is a secret to access the token
func (c *tokenConfig) Pin() string {
	return c.Pwd
}

// Attributes is list of additional key=value pairs
func (c *tokenConfig) Attributes() string {
	return c.Attrs
}

// LoadTokenConfig loads token configuration from a json or yaml file
func LoadTokenConfig(filename string) (TokenConfig, error) {
	cfr, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer cfr.Close()
	tokenConfig := new(tokenConfig)

	if strings.HasSuffix(filename, ".json") {
		err = json.NewDecoder(cfr).Decode(tokenConfig)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to decode file: %s", filename)
		}
	} else {
		err = yaml.NewDecoder(cfr).Decode(tokenConfig)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to decode file: %s", filename)
		}
	}

	pin := tokenConfig.Pin()
	switch {
	case strings.HasPrefix(pin, "file:"):
		pinfile := pin[5:]

		// try to resolve pin file
		cwd, _ := os.Getwd()
		folders := []string{
			"",
			cwd,
			filepath.Dir(filename),
		}

		for _, folder := range folders {
			if resolved, err := resolve(pinfile, folder); err == nil {
				pinfile = resolved
				break
			}
			logger.Warningf("reason=resolve, pinfile=%q, basedir=%q", pinfile, folder)
		}

		pb, err := os.ReadFile(pinfile)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load PIN for configuration: %s", filename)
		}
		tokenConfig.Pwd = string(pb)

	case strings.HasPrefix(pin, "env:"):
		name := strings.TrimSpace(pin[4:])
		val, ok := os.LookupEnv(name)
		if !ok {
			return nil, errors.Errorf("unable to load PIN for configuration: %s, variable not set: %s", filename, name)
		}
		tokenConfig.Pwd = val
	}

	return tokenConfig, nil
}

// resolve returns absolute file name relative to baseDir,
// or an error when the file does not exist.
func resolve(file string, baseDir string) (resolved string, err error) {
	if file == "" {
		return file, nil
	}
	if filepath.IsAbs(file) {
		resolved = file
	} else if baseDir != "" {
		resolved = filepath.Join(baseDir, file)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return resolved, errors.WithMessagef(err, "not found: %v", resolved)
	}
	return resolved, nil
}
