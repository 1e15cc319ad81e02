// Package metadata reads and writes the VM payload metadata record stored on
// the first partition of a payload disk.
//
// The record is an 8 byte header (big-endian format version, big-endian
// payload length) followed by a CBOR payload. The partition may be padded
// past the payload.
package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the only header version understood by this package.
const FormatVersion uint32 = 1

const (
	headerSize     = 8
	maxPayloadSize = 16 << 20
)

// ApexPayload describes one archive partition. Partition i+2 holds the
// archive for Apexes[i].
type ApexPayload struct {
	Name string `cbor:"1,keyasint" json:"name"`
	// PublicKey, when set, must equal the archive's bundled key.
	PublicKey []byte `cbor:"2,keyasint,omitempty" json:"publicKey,omitempty"`
	// RootDigest is the raw digest pinned for the partition.
	RootDigest        []byte `cbor:"3,keyasint,omitempty" json:"rootDigest,omitempty"`
	LastUpdateSeconds int64  `cbor:"4,keyasint,omitempty" json:"lastUpdateSeconds,omitempty"`
	IsFactory         bool   `cbor:"5,keyasint,omitempty" json:"isFactory,omitempty"`
}

// Metadata is the decoded record.
type Metadata struct {
	Version int64         `cbor:"1,keyasint" json:"version"`
	Apexes  []ApexPayload `cbor:"2,keyasint" json:"apexes"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("metadata: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("metadata: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal returns the framed record for m.
func Marshal(m *Metadata) ([]byte, error) {
	payload, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("metadata payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, headerSize, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], FormatVersion)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	return append(buf, payload...), nil
}

// Decode reads one framed record from r. Trailing bytes are not consumed.
func Decode(r io.Reader) (*Metadata, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading metadata header: %w", err)
	}
	version := binary.BigEndian.Uint32(header[0:4])
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported metadata format version %d", version)
	}
	size := binary.BigEndian.Uint32(header[4:8])
	if size > maxPayloadSize {
		return nil, fmt.Errorf("metadata payload too large: %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading metadata payload: %w", err)
	}

	var m Metadata
	if err := decMode.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	for i, apex := range m.Apexes {
		if apex.Name == "" {
			return nil, fmt.Errorf("metadata entry %d has no name", i)
		}
	}
	return &m, nil
}

// Read decodes the record stored at path, which may be a regular file or a
// block device.
func Read(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata %s: %w", path, err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Write stores the framed record for m at path.
func Write(path string, m *Metadata) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", path, err)
	}
	return nil
}

// Unmarshal decodes a framed record held in memory.
func Unmarshal(data []byte) (*Metadata, error) {
	return Decode(bytes.NewReader(data))
}
