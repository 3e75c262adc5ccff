package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMINS", "11,22")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{11, 22}, cfg.Admins)
	assert.Equal(t, "subbot.db", cfg.DatabaseURL)
	assert.Equal(t, 30, cfg.BroadcastBatchSize)
	assert.InDelta(t, 0.7, cfg.BroadcastMinSuccess, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), cfg.SubscriptionEndDate())
}

func TestLoadRequiresToken(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOT_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			BotToken:            "t",
			SubscriptionEnd:     "2026-12-31",
			BroadcastBatchSize:  30,
			BroadcastMinSuccess: 0.7,
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.SubscriptionEnd = "31/12/2026"
	assert.Error(t, c.Validate())

	c = base()
	c.BroadcastBatchSize = 0
	assert.Error(t, c.Validate())

	c = base()
	c.BroadcastMinSuccess = 1.5
	assert.Error(t, c.Validate())

	c = base()
	c.SubscriptionDays = -1
	assert.Error(t, c.Validate())
}
