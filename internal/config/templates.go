package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Candle Quiz Configuration

[session]
# Pattern pool: "Easy", "Medium" or "Hard" (tiers are cumulative)
difficulty = "Medium"
# Candles per item, 2 to 5
candles = 3
# Prediction horizon in bars: 1 or 3
horizon = 3
# Fall back to local synthesis when the external generator fails
use_local_on_fail = true
# Local items seeded when a session starts
initial_local = 5
# Deterministic variants per pattern
variants = 50
# Items requested in the background batch (max 20)
batch_size = 20
# Upper bound on the background batch call
batch_timeout = "2m"

[generator]
# Use the external generator when an API key is configured
enabled = true
# Model name for the OpenAI-compatible endpoint
model = "gpt-4o-mini"
# Leave empty for api.openai.com
base_url = ""
timeout = "60s"
# Single-item attempts; backoff doubles from initial_backoff
max_attempts = 3
initial_backoff = "300ms"
max_backoff = "10s"
# Consecutive failures before external calls are skipped for breaker_cooldown
breaker_threshold = 5
breaker_cooldown = "30s"

[store]
# Backend: "sqlite", "redis" or "memory"
backend = "sqlite"
# SQLite file; defaults to <config dir>/data/quiz.db
path = ""

[store.redis]
addr = "localhost:6379"
password = ""
db = 0
prefix = "quiz"

[logging]
level = "info"
console = true
file = false
max_size = 100
max_backups = 7
max_age = 30

[server]
addr = "127.0.0.1:8080"
read_timeout = "15s"
write_timeout = "90s"

[notifications]
# Print notices on stderr
terminal = true
# Ring the bell on warnings
bell = false
# Enable outbound notifications (webhook)
enabled = false

[notifications.webhook]
enabled = false
url = ""
`

const credentialsTemplate = `# Candle Quiz Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[generator]
api_key = ""
`

// ConfigPath returns the config.toml path inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(ConfigPath(configDir), []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
