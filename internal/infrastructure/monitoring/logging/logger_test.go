package logging

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newBufferLogger() (Logger, *zaptest.Buffer) {
	buf := &zaptest.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), buf, zapcore.DebugLevel)
	return &zapLogger{z: zap.New(core)}, buf
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: "debug", Format: format, OutputPaths: []string{"stderr"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_UnopenablePath(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/sub/log.txt"}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapLogger_FieldEncoding(t *testing.T) {
	l, buf := newBufferLogger()

	l.Info("pose ranked",
		PoseID("pose-7"),
		String(KeyMethod, "gfn2"),
		Int("attempts", 2),
		Float64("interaction_energy", -35.5),
		Bool("cached", false),
		Duration("elapsed", 1500*time.Millisecond),
		Strings("artifacts", []string{"a", "b"}),
		Err(errors.New("boom")),
	)

	lines := buf.Lines()
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "pose ranked", entry["msg"])
	assert.Equal(t, "pose-7", entry[KeyPoseID])
	assert.Equal(t, "gfn2", entry[KeyMethod])
	assert.EqualValues(t, 2, entry["attempts"])
	assert.EqualValues(t, -35.5, entry["interaction_energy"])
	assert.Equal(t, false, entry["cached"])
	assert.Equal(t, "boom", entry["error"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggerFromCore(core).Named("ranking").With(BatchID("b-1"))

	l.Warn("device fallback", PoseID("p1"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ranking", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "b-1", ctx[KeyBatchID])
	assert.Equal(t, "p1", ctx[KeyPoseID])
}

func TestErr_Nil(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x")
		l.With(String("k", "v")).Named("n").Info("x")
	})
}

func TestDefaultLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	l, buf := newBufferLogger()
	SetDefault(l)
	SetDefault(nil)
	Default().Info("hello")
	assert.True(t, strings.Contains(buf.String(), "hello"))
}
