package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:    "info",
			Concurrency: 4,
		},
		Cache: CacheConfig{
			SweepIntervalSeconds: 600,
			RetentionMinutes:     30,
		},
		Recovery: RecoveryConfig{
			SendTimeoutSeconds: 30,
			MarkerTTLMinutes:   60,
		},
		Commands: CommandsConfig{
			Prefix:       ".",
			ReplySeconds: 30,
		},
		Transport: TransportConfig{
			Host:           "127.0.0.1",
			Port:           8484,
			WebhookPath:    "/webhook/whatsapp",
			SendsPerMinute: 20,
			APIBase:        "https://graph.facebook.com/v21.0",
		},
		Mirror: MirrorConfig{
			Enabled: false,
		},
		Store: StoreConfig{
			DBPath: "~/.vaultbot/vaultbot.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
