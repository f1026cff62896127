// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// LoadPKCS12 decodes a password-protected PKCS#12 archive holding a single
// certificate and its private key, for use as [ClientOptions.Certificates].
//
// Archives with intermediate certificates are not supported. Combine the
// chain into a [tls.Certificate] with [tls.X509KeyPair] instead.
func LoadPKCS12(data []byte, password string) ([]tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: pkcs12: %w", ErrInvalidConfig, err)
	}
	out := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		Leaf:        cert,
		PrivateKey:  key,
	}
	return []tls.Certificate{out}, nil
}
