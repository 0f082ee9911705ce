package cli

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/x/print"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/keyvault/inmemcrypto"
	"github.com/effective-security/xcsr/keyvault/p11crypto"
	"github.com/effective-security/xlog"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcsr", "cli")

func init() {
	// PKCS#11 providers are registered by the module manufacturer
	for _, man := range []string{"SoftHSM", "SafeNet", "Thales"} {
		_ = keyvault.Register(man, p11crypto.LoadProvider)
	}
}

// Cli provides CLI context to run commands
type Cli struct {
	Version ctl.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`

	Cfg      string   `help:"Location of the key vault config file, or inmem" type:"path"`
	Crypto   []string `help:"Location of additional key vault provider config files"`
	Debug    bool     `short:"D" help:"Enable debug mode"`
	LogLevel string   `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	ctx               context.Context
	crypto            *keyvault.Crypto
	defaultCryptoProv keyvault.Provider
}

// Context for requests
func (c *Cli) Context() context.Context {
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c.ctx
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// AfterApply hook sets the logging level
func (c *Cli) AfterApply(_ *kong.Kong, _ kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		val := strings.TrimLeft(c.LogLevel, "=")
		l, err := xlog.ParseLevel(strings.ToUpper(val))
		if err != nil {
			return errors.WithStack(err)
		}
		xlog.SetGlobalLogLevel(l)
	}

	return nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) {
	print.JSON(c.Writer(), value)
}

// ReadFile reads from stdin if the file is "-"
func (c *Cli) ReadFile(filename string) ([]byte, error) {
	if filename == "" {
		return nil, errors.New("empty file name")
	}
	if filename == "-" {
		return io.ReadAll(c.Reader())
	}
	return os.ReadFile(filename)
}

// CryptoProv loads the key vault providers and returns the registry
// with the default provider. The special config value "inmem" selects
// the in-memory provider.
func (c *Cli) CryptoProv() (*keyvault.Crypto, keyvault.Provider) {
	if c.crypto == nil {
		if c.Cfg == "" {
			logger.Panicf("use --cfg flag to specify the key vault config file")
		}
		cfg := c.Cfg
		if cfg == inmemcrypto.ProviderName || strings.HasSuffix(cfg, "/"+inmemcrypto.ProviderName) {
			cfg = ""
		}
		var err error
		c.crypto, err = keyvault.Load(cfg, c.Crypto)
		if err != nil {
			logger.Panicf("unable to initialize crypto providers: [%v]", err)
		}
	}
	if c.defaultCryptoProv == nil {
		c.defaultCryptoProv = c.crypto.Default()
	}
	return c.crypto, c.defaultCryptoProv
}
