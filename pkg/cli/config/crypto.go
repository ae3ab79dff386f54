package config

import (
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/sprintview/sprintview/pkg/service/seal"
)

// Crypto holds the credential-sealing configuration
type Crypto struct {
	EncryptionSecret string
}

// Flags returns CLI flags for Crypto configuration
func (c *Crypto) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "encryption-secret",
			Usage:       "Process-wide secret for sealing the credential cookie (min 16 bytes)",
			Category:    "Security",
			Required:    true,
			Sources:     cli.EnvVars("SPRINTVIEW_ENCRYPTION_SECRET"),
			Destination: &c.EncryptionSecret,
		},
	}
}

// Configure creates the credential sealer
func (c *Crypto) Configure() (*seal.Sealer, error) {
	return seal.New(c.EncryptionSecret)
}

// LogValue returns structured log value with the secret masked
func (c Crypto) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_encryption_secret", c.EncryptionSecret != ""),
		slog.Int("secret_length", len(c.EncryptionSecret)),
	)
}
