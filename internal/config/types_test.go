package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	invalidPort := DefaultConfig()
	invalidPort.Server.Listen.Port = -1
	require.Error(t, invalidPort.Validate())

	missingBase := DefaultConfig()
	missingBase.API.BaseURL = ""
	require.Error(t, missingBase.Validate())

	relativeBase := DefaultConfig()
	relativeBase.API.BaseURL = "/api"
	require.Error(t, relativeBase.Validate())

	badTimeout := DefaultConfig()
	badTimeout.API.Timeout = "soon"
	require.Error(t, badTimeout.Validate())

	negativeStale := DefaultConfig()
	negativeStale.Cache.StaleTime = "-1s"
	require.Error(t, negativeStale.Validate())

	redisWithoutAddress := DefaultConfig()
	redisWithoutAddress.Cache.Persist.Backend = "redis"
	require.Error(t, redisWithoutAddress.Validate())

	unknownBackend := DefaultConfig()
	unknownBackend.Cache.Persist.Backend = "memcached"
	require.Error(t, unknownBackend.Validate())

	negativeRetries := DefaultConfig()
	negativeRetries.Polling.Analytics.Retries = -2
	require.Error(t, negativeRetries.Validate())

	badRedirect := DefaultConfig()
	badRedirect.OAuth.YouTube.RedirectURL = "not a url"
	require.Error(t, badRedirect.Validate())
}

func TestConfigValidateNormalizesRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dashboard.Role = " Influencer "
	require.NoError(t, cfg.Validate())
	require.Equal(t, "influencer", cfg.Dashboard.Role)
}

func TestConfigDurations(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 15*time.Second, cfg.APITimeout())
	require.Equal(t, 30*time.Second, cfg.StaleTime())
	require.Equal(t, 10*time.Minute, cfg.PersistTTL())
	require.Equal(t, time.Minute, cfg.Polling.Analytics.Every())
	require.Equal(t, 2*time.Second, cfg.Polling.Analytics.Delay())

	cfg.Cache.StaleTime = ""
	require.Zero(t, cfg.StaleTime())
}
