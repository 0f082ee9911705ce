package cli

import (
	"bytes"
	"os"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/stretchr/testify/suite"
)

type testSuite struct {
	suite.Suite

	ctl      *Cli
	appFlags []string
	tmpdir   string
	// Out is the output buffer
	Out bytes.Buffer
}

func (s *testSuite) SetupTest() {
	s.Out.Reset()
	s.tmpdir = s.T().TempDir()

	s.ctl = &Cli{}

	s.ctl.WithErrWriter(&s.Out).
		WithWriter(&s.Out)

	parser, err := kong.New(s.ctl,
		kong.Name("xcsr-tool"),
		kong.Description("CLI tool for keys and certificate requests"),
		kong.Writers(&s.Out, &s.Out),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{})
	if err != nil {
		s.FailNow("unexpected error constructing Kong: %+v", err)
	}

	flags := s.appFlags
	if len(flags) == 0 {
		flags = []string{"--cfg=inmem"}
	}

	_, err = parser.Parse(flags)
	if err != nil {
		s.FailNow("unexpected error parsing: %+v", err)
	}
}

func (s *testSuite) TearDownTest() {
}

// HasText is a helper method to assert that the out stream contains the supplied
// text somewhere
func (s *testSuite) HasText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}

// HasNoText is a helper method to assert that the out stream does not contain
// the supplied text
func (s *testSuite) HasNoText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.NotContains(outStr, t)
	}
}

// HasTextInFile is a helper method to assert that the file contains the supplied text
func (s *testSuite) HasTextInFile(file string, texts ...string) {
	f, err := os.ReadFile(file)
	s.Require().NoError(err, "unable to read: %s", file)
	outStr := string(f)
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}
