package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: credentials become
// "***" and the slices are cloned. A Postgres DSN keeps its host and database
// so connection problems stay diagnosable.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Signer.PrivateKey,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)

	out.Markets = slices.Clone(cfg.Markets)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

// redactDSN masks the password of a postgres:// URL. A DSN that does not
// parse as a URL is masked whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
