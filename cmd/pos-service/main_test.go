package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	tests := []struct {
		raw     string
		want    log.Level
		wantErr bool
	}{
		{raw: "debug", want: log.DebugLevel},
		{raw: "WARN", want: log.WarnLevel},
		{raw: "error", want: log.ErrorLevel},
		{raw: "chatty", want: log.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			err := setupLogger(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setupLogger(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got := log.GetLevel(); got != tt.want {
				t.Fatalf("expected level %s, got %s", tt.want, got)
			}
			if _, ok := log.StandardLogger().Formatter.(*log.TextFormatter); !ok {
				t.Fatalf("expected text formatter, got %T", log.StandardLogger().Formatter)
			}
		})
	}
}
