package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "smtp", cfg.Mail.Transport)
	assert.Equal(t, "RPT", cfg.Reports.CodePrefix)
	assert.Equal(t, 5, cfg.Reports.CodePadding)
	assert.Equal(t, 3*time.Second, cfg.Reports.ConnectTimeout)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Queue.Backoff)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadFile_Overrides(t *testing.T) {
	body := `
mail:
  transport: sendgrid
  sendgrid_api_key: SG.test
reports:
  code_prefix: REP
  code_padding: 3
  timezone: Europe/Paris
queue:
  backoff: 10m
alert:
  email:
    receivers:
      - ops@example.com
      - dba@example.com
`
	cfg, err := LoadFile(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, "sendgrid", cfg.Mail.Transport)
	assert.Equal(t, "SG.test", cfg.Mail.SendGridAPIKey)
	assert.Equal(t, "REP", cfg.Reports.CodePrefix)
	assert.Equal(t, 3, cfg.Reports.CodePadding)
	assert.Equal(t, 10*time.Minute, cfg.Queue.Backoff)
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
	assert.Equal(t, []string{"ops@example.com", "dba@example.com"}, cfg.Alert.Email.Receivers)
}

func TestLoadFile_EnvOverride(t *testing.T) {
	t.Setenv("REPORTMAILER_SERVER_PORT", "7070")
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown transport", "mail:\n  transport: pigeon\n", "mail.transport"},
		{"sendgrid without key", "mail:\n  transport: sendgrid\n", "sendgrid_api_key"},
		{"short secret key", "security:\n  secret_key: abcd\n", "secret_key"},
		{"bad padding", "reports:\n  code_padding: 0\n", "code_padding"},
		{"bad timezone", "reports:\n  timezone: Mars/Olympus\n", "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
