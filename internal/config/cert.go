package config

import (
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/rs/zerolog/log"
)

// certSubjectFromFile reads the PEM certificate at path and returns its
// subject distinguished name, falling back to the path itself when the
// file is missing or unparsable. Certificate files are not required to
// exist at parse time (they may be provisioned separately), so failures
// here are logged, not fatal.
func certSubjectFromFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Err(err).Str("cert", path).Msg("cert unreadable at parse time, using path as identity")
		return path
	}
	block, _ := pem.Decode(data)
	if block == nil {
		log.Debug().Str("cert", path).Msg("cert not PEM-encoded, using path as identity")
		return path
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		log.Debug().Err(err).Str("cert", path).Msg("cert unparsable, using path as identity")
		return path
	}
	return cert.Subject.String()
}
