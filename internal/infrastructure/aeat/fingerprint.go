package aeat

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/n1ngu/sii/internal/domain/sii"
)

// Fingerprinter calcula el SHA-256 del sobre SOAP canonicalizado (C14N) que se
// enviaría para la operación. Dos peticiones equivalentes dan la misma huella.
type Fingerprinter struct{}

// Fingerprint implementa ports.Fingerprinter.
func (Fingerprinter) Fingerprint(operation string, body sii.Mapping) (string, error) {
	b, err := bindingFor(operation)
	if err != nil {
		return "", err
	}
	env := etree.NewDocumentWithRoot(b.envelope(body).Root().Copy())
	data, err := env.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("aeat: serializar sobre: %w", err)
	}
	canon, err := canonicalizeXML(data)
	if err != nil {
		return "", fmt.Errorf("aeat: canonicalizar sobre: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}
