package apexfile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
)

var armorPrefix = []byte("-----BEGIN")

// verifyPayloadSignature checks a detached OpenPGP signature over the payload
// using the bundled key as the only trusted keyring. Key and signature may be
// armored or binary.
func verifyPayloadSignature(key []byte, payload io.Reader, sig []byte) error {
	keyring, err := readKeyRing(key)
	if err != nil {
		return fmt.Errorf("reading bundled key: %w", err)
	}

	if bytes.HasPrefix(bytes.TrimSpace(sig), armorPrefix) {
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, payload, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(keyring, payload, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	return nil
}

func readKeyRing(key []byte) (openpgp.EntityList, error) {
	if bytes.HasPrefix(bytes.TrimSpace(key), armorPrefix) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(key))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(key))
}
