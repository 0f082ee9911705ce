package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/effective-security/x/guid"
	"github.com/effective-security/x/print"
	"github.com/effective-security/xcsr/certutil"
	"github.com/effective-security/xcsr/csr"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/pkg/errors"
)

// KeyCmd is the parent for key commands
type KeyCmd struct {
	List     KeyLsCmd     `cmd:"" help:"list keys"`
	Info     KeyInfoCmd   `cmd:"" help:"print key information"`
	Generate KeyGenCmd    `cmd:"" help:"generate key"`
	Remove   KeyRmCmd     `cmd:"" name:"rm" help:"delete key"`
	Export   KeyExportCmd `cmd:"" help:"export key"`
}

// KeyLsCmd prints keys
type KeyLsCmd struct {
	Token  string `help:"specifies slot token (optional)"`
	Serial string `help:"specifies slot serial (optional)"`
	Prefix string `help:"specifies key label prefix (optional)"`
}

// Run the command
func (a *KeyLsCmd) Run(ctx *Cli) error {
	_, defprov := ctx.CryptoProv()
	keyProv, ok := defprov.(keyvault.KeyManager)
	if !ok {
		return errors.Errorf("unsupported command for this crypto provider")
	}

	isDefaultSlot := a.Serial == "" && a.Token == ""
	filterSerial := a.Serial
	if filterSerial == "" {
		filterSerial = "--@--"
	}
	filterLabel := a.Token
	if filterLabel == "" {
		filterLabel = "--@--"
	}

	out := ctx.Writer()

	tokens, err := keyProv.EnumTokens(isDefaultSlot)
	if err != nil {
		return errors.WithMessagef(err, "failed to list tokens")
	}

	printIfNotEmpty := func(label, val string) {
		if val != "" {
			fmt.Fprintf(out, "  %s:  %s\n", label, val)
		}
	}

	for _, token := range tokens {
		if isDefaultSlot || token.Serial == filterSerial || token.Label == filterLabel {
			fmt.Fprintf(out, "Slot: %d\n", token.SlotID)
			printIfNotEmpty("Manufacturer", token.Manufacturer)
			printIfNotEmpty("Model", token.Model)
			printIfNotEmpty("Description", token.Description)
			printIfNotEmpty("Token serial", token.Serial)
			printIfNotEmpty("Token label", token.Label)

			keys, err := keyProv.EnumKeys(token.SlotID, a.Prefix)
			if err != nil {
				return errors.WithMessagef(err, "failed to list keys on slot %d", token.SlotID)
			}
			if a.Prefix != "" && len(keys) == 0 {
				fmt.Fprintf(out, "no keys found with prefix: %s\n", a.Prefix)
			}
			for i, key := range keys {
				fmt.Fprintf(out, "[%d]\n", i)
				fmt.Fprintf(out, "  Id:    %s\n", key.ID)
				printIfNotEmpty("Label", key.Label)
				printIfNotEmpty("Type", key.Type)
				printIfNotEmpty("Class", key.Class)
				printIfNotEmpty("Version", key.CurrentVersionID)
				if key.CreationTime != nil {
					fmt.Fprintf(out, "  Created: %s\n", key.CreationTime.Format(time.RFC3339))
				}
				for k, v := range key.Meta {
					fmt.Fprintf(out, "  %s: %s\n", k, v)
				}
			}
		}
	}
	return nil
}

// KeyInfoCmd prints the key info
type KeyInfoCmd struct {
	ID     string `kong:"arg" required:"" help:"key ID"`
	Token  string `help:"slot token (optional)"`
	Serial string `help:"slot serial (optional)"`
	Public bool   `help:"print Public Key"`
}

// Run the command
func (a *KeyInfoCmd) Run(ctx *Cli) error {
	_, defprov := ctx.CryptoProv()
	keyProv, ok := defprov.(keyvault.KeyManager)
	if !ok {
		return errors.Errorf("unsupported command for this crypto provider")
	}

	filterSerial := a.Serial
	isDefaultSlot := filterSerial == ""

	if isDefaultSlot {
		filterSerial = "--@--"
	}

	out := ctx.Writer()

	tokens, err := keyProv.EnumTokens(isDefaultSlot)
	if err != nil {
		return errors.WithMessagef(err, "failed to list tokens")
	}

	for _, token := range tokens {
		if isDefaultSlot || token.Serial == filterSerial {
			fmt.Fprintf(out, "Slot: %d\n", token.SlotID)
			fmt.Fprintf(out, "  Description:  %s\n", token.Description)
			fmt.Fprintf(out, "  Token serial: %s\n", token.Serial)

			key, err := keyProv.KeyInfo(token.SlotID, a.ID, a.Public)
			if err != nil {
				return errors.WithMessagef(err, "failed to get key on slot %d", token.SlotID)
			}
			fmt.Fprintf(out, "  Id:    %s\n", key.ID)
			if key.Label != "" {
				fmt.Fprintf(out, "  Label: %s\n", key.Label)
			}
			if key.Type != "" {
				fmt.Fprintf(out, "  Type:  %s\n", key.Type)
			}
			if key.Class != "" {
				fmt.Fprintf(out, "  Class: %s\n", key.Class)
			}
			if key.CurrentVersionID != "" {
				fmt.Fprintf(out, "  Version: %s\n", key.CurrentVersionID)
			}
			if key.CreationTime != nil {
				fmt.Fprintf(out, "  Created: %s\n", key.CreationTime.Format(time.RFC3339))
			}
			for k, v := range key.Meta {
				fmt.Fprintf(out, "  %s: %s\n", k, v)
			}
			if key.PublicKey != "" {
				fmt.Fprintf(out, "  Public key: \n%s\n", key.PublicKey)
			}
		}
	}

	return nil
}

// KeyGenCmd generates key
type KeyGenCmd struct {
	Algo    string `required:"" help:"algorithm: RSA|ECDSA"`
	Size    int    `required:"" help:"key size in bits"`
	Purpose string `required:"" help:"purpose of the key: SIGN|ENCRYPT"`
	Label   string `required:"" help:"name for generated key"`
	Output  string `help:"location to write the key, if not set, the output will be printed to STDOUT only"`
	Force   bool   `help:"force to override key file if exists"`
}

// Run the command
func (a *KeyGenCmd) Run(ctx *Cli) error {
	if a.Output != "" && !a.Force {
		if _, err := os.Stat(a.Output); err == nil {
			return errors.Errorf("%q file exists, specify --force flag to override", a.Output)
		}
	}

	_, defprov := ctx.CryptoProv()
	prov := csr.NewProvider(defprov)

	var purpose csr.KeyPurpose
	switch strings.ToLower(a.Purpose) {
	case "s", "sign", "signing":
		purpose = csr.SigningKey
	case "e", "encrypt", "encryption":
		purpose = csr.EncryptionKey
	default:
		return errors.Errorf("unsupported purpose: %q", a.Purpose)
	}

	req := prov.NewKeyRequest(prefixKeyLabel(a.Label), a.Algo, a.Size, purpose)
	prv, err := req.Generate()
	if err != nil {
		return errors.WithStack(err)
	}

	keyID, _, err := defprov.IdentifyKey(prv)
	if err != nil {
		return errors.WithStack(err)
	}

	uri, key, err := defprov.ExportKey(keyID)
	if err != nil {
		return errors.WithStack(err)
	}

	if key == nil {
		key = []byte(uri)
	}

	if a.Output == "" {
		print.CertAndKey(ctx.Writer(), key, nil, nil)
	} else {
		err = os.WriteFile(a.Output, key, 0600)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// KeyRmCmd deletes key
type KeyRmCmd struct {
	ID     string `kong:"arg" required:"" help:"specifies key ID"`
	Token  string `help:"specifies slot token (optional)"`
	Serial string `help:"specifies slot serial (optional)"`
}

// Run the command
func (a *KeyRmCmd) Run(ctx *Cli) error {
	_, defprov := ctx.CryptoProv()
	keyProv, ok := defprov.(keyvault.KeyManager)
	if !ok {
		return errors.Errorf("unsupported command for this crypto provider")
	}

	filterSerial := a.Serial
	isDefaultSlot := a.Serial == ""

	if isDefaultSlot {
		filterSerial = "--@--"
	}

	tokens, err := keyProv.EnumTokens(isDefaultSlot)
	if err != nil {
		return errors.WithMessagef(err, "failed to list tokens")
	}

	for _, token := range tokens {
		if isDefaultSlot || token.Serial == filterSerial {
			err := keyProv.DestroyKeyPairOnSlot(token.SlotID, a.ID)
			if err != nil {
				return errors.WithMessagef(err, "unable to destroy key %q on slot %d", a.ID, token.SlotID)
			}
			fmt.Fprintf(ctx.Writer(), "destroyed key: %s\n", a.ID)
			return nil
		}
	}

	return nil
}

// KeyExportCmd exports a key: the private material when the provider
// releases it, the key URI otherwise, or the public key as JWK
type KeyExportCmd struct {
	ID     string `kong:"arg" required:"" help:"key ID"`
	Jwk    bool   `help:"export the public key in JWK format"`
	Output string `help:"location to write the key, if not set, the output will be printed to STDOUT only"`
	Force  bool   `help:"force to override key file if exists"`
}

// Run the command
func (a *KeyExportCmd) Run(ctx *Cli) error {
	if a.Output != "" && !a.Force {
		if _, err := os.Stat(a.Output); err == nil {
			return errors.Errorf("%q file exists, specify --force flag to override", a.Output)
		}
	}

	_, defprov := ctx.CryptoProv()

	var out []byte
	var mode os.FileMode = 0600
	if a.Jwk {
		spki, err := defprov.ExportPublicKey(a.ID)
		if err != nil {
			return errors.WithStack(err)
		}
		pub, err := spki.Key()
		if err != nil {
			return errors.WithStack(err)
		}
		out, err = certutil.EncodePublicKeyToJWK(pub, a.ID)
		if err != nil {
			return errors.WithStack(err)
		}
		mode = 0664
	} else {
		uri, key, err := defprov.ExportKey(a.ID)
		if err != nil {
			return errors.WithStack(err)
		}
		if key == nil {
			key = []byte(uri)
		}
		out = key
	}

	if a.Output == "" {
		fmt.Fprintf(ctx.Writer(), "%s\n", out)
	} else {
		err := os.WriteFile(a.Output, out, mode)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// prefixKeyLabel adds a date suffix to the label when it ends with *
func prefixKeyLabel(label string) string {
	if strings.HasSuffix(label, "*") {
		g := guid.MustCreate()
		t := time.Now().UTC()
		label = strings.TrimSuffix(label, "*") +
			fmt.Sprintf("_%04d%02d%02d%02d%02d%02d_%x", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), g[:4])
	}

	return label
}
