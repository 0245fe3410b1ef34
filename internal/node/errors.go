package node

import "errors"

var (
	// ErrBaseDirRequired is returned by Builder.Build when no base
	// directory was configured.
	ErrBaseDirRequired = errors.New("node: base directory is required")
	// ErrPassphraseRequired is returned by Builder.Build when no
	// passphrase was configured.
	ErrPassphraseRequired = errors.New("node: passphrase is required")
)
