package config

import "maps"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", safe to
// log. Slices and maps are copied so the redacted value shares nothing
// mutable with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// RPC URLs often embed provider API keys.
	redact(&out.Networks.A.RPCURL)
	redact(&out.Networks.B.RPCURL)

	redact(&out.Redis.Password)
	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Bridge.Policy = maps.Clone(cfg.Bridge.Policy)
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
