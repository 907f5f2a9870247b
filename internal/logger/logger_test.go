package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type LoggerTest struct {
	suite.Suite
	buf *bytes.Buffer
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) SetupTest() {
	t.buf = &bytes.Buffer{}
	SetOutput(t.buf)
}

func (t *LoggerTest) logAtEachSeverity() []string {
	t.buf.Reset()
	Tracef("www.traceExample.com")
	trace := t.buf.String()
	t.buf.Reset()
	Debugf("www.debugExample.com")
	debug := t.buf.String()
	t.buf.Reset()
	Infof("www.infoExample.com")
	info := t.buf.String()
	t.buf.Reset()
	Warnf("www.warningExample.com")
	warn := t.buf.String()
	t.buf.Reset()
	Errorf("www.errorExample.com")
	errOut := t.buf.String()
	return []string{trace, debug, info, warn, errOut}
}

func (t *LoggerTest) TestSeverityGating() {
	cases := []struct {
		severity string
		nonEmpty []bool // trace, debug, info, warn, error
	}{
		{"OFF", []bool{false, false, false, false, false}},
		{"ERROR", []bool{false, false, false, false, true}},
		{"WARNING", []bool{false, false, false, true, true}},
		{"INFO", []bool{false, false, true, true, true}},
		{"DEBUG", []bool{false, true, true, true, true}},
		{"TRACE", []bool{true, true, true, true, true}},
	}

	for _, c := range cases {
		SetSeverity(c.severity)
		output := t.logAtEachSeverity()
		for i, want := range c.nonEmpty {
			if want {
				assert.NotEmpty(t.T(), output[i], "severity=%s index=%d", c.severity, i)
			} else {
				assert.Empty(t.T(), output[i], "severity=%s index=%d", c.severity, i)
			}
		}
	}
}

func (t *LoggerTest) TestJSONFormatIncludesSeverityAndMessage() {
	SetSeverity("INFO")
	SetFormat("json")
	defer SetFormat("text")

	t.buf.Reset()
	Infof("hello %s", "world")

	re := regexp.MustCompile(`"severity":"INFO".*"msg":"hello world"`)
	assert.Regexp(t.T(), re, t.buf.String())
}

func (t *LoggerTest) TestKVHelpersAttachFields() {
	SetSeverity("DEBUG")
	SetFormat("json")
	defer SetFormat("text")

	t.buf.Reset()
	DebugKV("cache miss", "sector", uint32(42))

	assert.Contains(t.T(), t.buf.String(), `"sector":42`)
}
