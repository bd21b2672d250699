package logging_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/omochice/toy-p2p-chat/internal/logging"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "console info", level: "info", format: "console"},
		{name: "default format", level: "debug", format: ""},
		{name: "json warn", level: "warn", format: "json"},
		{name: "bad level", level: "loud", format: "console", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			log, err := logging.New(tt.level, tt.format)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.NotNil(log)
		})
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	req := require.New(t)
	log, err := logging.New("warn", "json")
	req.NoError(err)

	req.False(log.Core().Enabled(zapcore.InfoLevel))
	req.True(log.Core().Enabled(zapcore.ErrorLevel))
}

func TestFor(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zapcore.InfoLevel)

	logging.For(zap.New(core), logging.ComponentListener).Info("hello")

	req.Equal(1, logs.Len())
	req.Equal("listener", logs.All()[0].ContextMap()["component"])

	// A nil logger is tolerated
	logging.For(nil, logging.ComponentSender).Info("dropped")
}
