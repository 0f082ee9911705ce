package cli

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/effective-security/x/print"
	"github.com/effective-security/xcsr/csr"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CsrCmd is the parent for CSR commands
type CsrCmd struct {
	Create CsrCreateCmd `cmd:"" help:"create certificate request"`
	Info   CsrInfoCmd   `cmd:"" help:"print certificate request information"`
	Verify CsrVerifyCmd `cmd:"" help:"verify certificate request signature"`
}

// CsrCreateCmd specifies flags for Create command
type CsrCreateCmd struct {
	CsrProfile string   `required:"" help:"file name with CSR profile"`
	KeyLabel   string   `required:"" help:"name for generated key"`
	SAN        []string `help:"Subject Alt Names for generated request"`
	Output     string   `help:"the optional prefix for output files; if not set, the output will be printed to STDOUT only"`
}

// Run the command
func (a *CsrCreateCmd) Run(ctx *Cli) error {
	_, defprov := ctx.CryptoProv()
	prov := csr.NewProvider(defprov)

	csrf, err := ctx.ReadFile(a.CsrProfile)
	if err != nil {
		return errors.WithMessage(err, "read CSR profile")
	}

	req := csr.CertificateRequest{
		KeyRequest: prov.NewKeyRequest(prefixKeyLabel(a.KeyLabel), "ECDSA", 256, csr.SigningKey),
	}

	if strings.HasSuffix(a.CsrProfile, "json") {
		err = json.Unmarshal(csrf, &req)
	} else {
		err = yaml.Unmarshal(csrf, &req)
	}
	if err != nil {
		return errors.WithMessage(err, "invalid CSR profile")
	}

	if len(a.SAN) > 0 {
		req.SAN = a.SAN
	}

	var key, csrPEM []byte
	csrPEM, key, _, _, err = prov.CreateRequestAndExportKey(&req)
	if err != nil {
		return errors.WithMessage(err, "process CSR")
	}

	if a.Output == "" {
		print.CertAndKey(ctx.Writer(), key, csrPEM, nil)
	} else {
		err = saveRequest(a.Output, key, csrPEM)
		if err != nil {
			return err
		}
	}

	return nil
}

// CsrInfoCmd specifies flags for Info command
type CsrInfoCmd struct {
	Csr string `kong:"arg" required:"" help:"CSR file name"`
}

// Run the command
func (a *CsrInfoCmd) Run(ctx *Cli) error {
	csrb, err := ctx.ReadFile(a.Csr)
	if err != nil {
		return errors.WithMessage(err, "unable to load CSR file")
	}

	block, _ := pem.Decode(csrb)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return errors.New("invalid CSR file")
	}

	csrv, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return errors.WithMessage(err, "unable to parse CSR")
	}

	print.CertificateRequest(ctx.Writer(), csrv)

	return nil
}

// CsrVerifyCmd specifies flags for Verify command
type CsrVerifyCmd struct {
	Csr string `kong:"arg" required:"" help:"CSR file name"`
}

// Run the command
func (a *CsrVerifyCmd) Run(ctx *Cli) error {
	csrb, err := ctx.ReadFile(a.Csr)
	if err != nil {
		return errors.WithMessage(err, "unable to load CSR file")
	}

	req, err := pkcs10.ParseCertificationRequestPEM(csrb)
	if err != nil {
		return errors.WithMessage(err, "unable to parse CSR")
	}

	valid, err := req.Verify()
	if err != nil {
		return errors.WithMessage(err, "unable to verify CSR")
	}
	if !valid {
		return errors.New("signature does not match the request")
	}

	fmt.Fprintf(ctx.Writer(), "signature: valid\nsubject: %s\nalgorithm: %s\n",
		req.Info.Subject.String(),
		pkcs10.SignatureAlgorithmName(req.SignatureAlgorithm.Algorithm))

	return nil
}

// saveRequest saves the key and the request with the base name prefix
func saveRequest(baseName string, key, csrPEM []byte) error {
	var err error
	if len(csrPEM) > 0 {
		err = os.WriteFile(baseName+".csr", csrPEM, 0664)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	if len(key) > 0 {
		err = os.WriteFile(baseName+".key", key, 0600)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
