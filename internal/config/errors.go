package config

import "errors"

// ErrMissingPassphrase is returned by Load when no passphrase was supplied
// via file or environment. Absence of a passphrase is a ConfigError and is
// fatal at startup (§7).
var ErrMissingPassphrase = errors.New("config: passphrase not configured")
