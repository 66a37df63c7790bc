package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) TestParseSeverityAcceptsKnownNames() {
	cases := map[string]Severity{
		"trace":   SeverityTrace,
		"DEBUG":   SeverityDebug,
		"Info":    SeverityInfo,
		"warning": SeverityWarning,
		"warn":    SeverityWarning,
		"error":   SeverityError,
		"off":     SeverityOff,
	}
	for in, want := range cases {
		got, err := ParseSeverity(in)
		assert.NoError(t.T(), err)
		assert.Equal(t.T(), want, got)
	}
}

func (t *LoggerTest) TestParseSeverityRejectsUnknown() {
	_, err := ParseSeverity("verbose")
	assert.Error(t.T(), err)
}

func (t *LoggerTest) TestTextFormatWritesSeverityAndMessage() {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	l := slog.New(h)
	l.Info("mounted", "path", "/mnt/objectfs")

	out := buf.String()
	assert.True(t.T(), strings.Contains(out, "level=INFO"))
	assert.True(t.T(), strings.Contains(out, "msg=mounted"))
	assert.True(t.T(), strings.Contains(out, "path=/mnt/objectfs"))
}

func (t *LoggerTest) TestJSONFormatIsValidJSONPerLine() {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	l := slog.New(h)
	l.Info("mounted", "path", "/mnt/objectfs")

	out := strings.TrimSpace(buf.String())
	assert.True(t.T(), strings.HasPrefix(out, "{"))
	assert.True(t.T(), strings.Contains(out, `"msg":"mounted"`))
}

func (t *LoggerTest) TestSeverityOffDiscardsOutput() {
	l := NewLogger(Config{Format: "text", Severity: SeverityOff})
	l.Error("should not appear")
	// No assertion target reachable here beyond "did not panic"; severity
	// off routes to io.Discard, which NewLogger builds internally.
	assert.NotNil(t.T(), l)
}

func (t *LoggerTest) TestNewLoggerDefaultsToText() {
	l := NewLogger(Config{Severity: SeverityInfo})
	assert.NotNil(t.T(), l)
	assert.IsType(t.T(), &slog.TextHandler{}, l.Handler())
}
