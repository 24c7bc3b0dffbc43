package crypto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// At-rest framing.
//
// Body blobs:
//
//	+-------+---------+-----------+-----------+------------+-----------+----------------+
//	| Magic | Version | Algorithm | ChunkSize | ChunkCount | BaseNonce | Sealed chunks  |
//	+-------+---------+-----------+-----------+------------+-----------+----------------+
//	| 4 B   | 1 B     | 1 B       | 4 B (BE)  | 4 B (BE)   | 12 B      | remainder      |
//	+-------+---------+-----------+-----------+------------+-----------+----------------+
//
// Every sealed chunk is chunkSize+16 bytes except the last, which may be
// shorter (its plaintext is the trailing partial chunk). The nonce for chunk i
// is the base nonce with its last four bytes XORed with the big-endian chunk
// index. ChunkCount pins the number of sealed chunks: without it, cutting the
// payload at a sealed-chunk boundary would still verify chunk by chunk and
// surface a silently shortened plaintext. This is the only framing the engine
// produces: payloads at or below one chunk are a one-chunk blob, so decryption
// needs no mode flag.
//
// Metadata records use the same header without the chunk fields and hold a
// single sealed payload under an independent random nonce.
const (
	blobMagic     = "ZVLT"
	metadataMagic = "ZVMD"
	formatVersion = 1

	blobHeaderSize     = 4 + 1 + 1 + 4 + 4 + nonceSize
	metadataHeaderSize = 4 + 1 + 1 + nonceSize
)

// EncryptedBlob is the at-rest representation of a file body. Immutable once
// produced; file updates replace the whole blob so nonces are never reused.
type EncryptedBlob struct {
	Algorithm string
	ChunkSize int
	// ChunkCount is the number of sealed chunks the blob must contain.
	// Decryption rejects a payload with fewer or more chunks than declared.
	ChunkCount int
	BaseNonce  []byte
	// Sealed holds the concatenated sealed chunks, auth tags included.
	Sealed []byte
}

// EncryptedMetadata is the at-rest representation of a file's name and
// declared content type. Independent ciphertext from the body: losing one does
// not prevent decrypting the other.
type EncryptedMetadata struct {
	Algorithm string
	Nonce     []byte
	Sealed    []byte
}

// Marshal encodes the blob for storage.
func (b *EncryptedBlob) Marshal() []byte {
	code, _ := algorithmCode(b.Algorithm)
	out := make([]byte, 0, blobHeaderSize+len(b.Sealed))
	out = append(out, blobMagic...)
	out = append(out, formatVersion, code)
	out = binary.BigEndian.AppendUint32(out, uint32(b.ChunkSize))
	out = binary.BigEndian.AppendUint32(out, uint32(b.ChunkCount))
	out = append(out, b.BaseNonce...)
	out = append(out, b.Sealed...)
	return out
}

// UnmarshalBlob decodes a stored body blob. Inputs shorter than the header
// fail with ErrTruncatedInput.
func UnmarshalBlob(data []byte) (*EncryptedBlob, error) {
	if len(data) < blobHeaderSize {
		return nil, fmt.Errorf("blob of %d bytes: %w", len(data), ErrTruncatedInput)
	}
	if !bytes.Equal(data[:4], []byte(blobMagic)) {
		return nil, fmt.Errorf("unrecognized blob header")
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("unsupported blob format version %d", data[4])
	}

	algorithm, err := algorithmFromCode(data[5])
	if err != nil {
		return nil, err
	}

	chunkSize := int(binary.BigEndian.Uint32(data[6:10]))
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("blob chunk size %d out of range", chunkSize)
	}
	chunkCount := int(binary.BigEndian.Uint32(data[10:14]))

	return &EncryptedBlob{
		Algorithm:  algorithm,
		ChunkSize:  chunkSize,
		ChunkCount: chunkCount,
		BaseNonce:  append([]byte(nil), data[14:14+nonceSize]...),
		Sealed:     append([]byte(nil), data[blobHeaderSize:]...),
	}, nil
}

// Marshal encodes the metadata record for storage.
func (m *EncryptedMetadata) Marshal() []byte {
	code, _ := algorithmCode(m.Algorithm)
	out := make([]byte, 0, metadataHeaderSize+len(m.Sealed))
	out = append(out, metadataMagic...)
	out = append(out, formatVersion, code)
	out = append(out, m.Nonce...)
	out = append(out, m.Sealed...)
	return out
}

// UnmarshalMetadata decodes a stored metadata record.
func UnmarshalMetadata(data []byte) (*EncryptedMetadata, error) {
	if len(data) < metadataHeaderSize+tagSize {
		return nil, fmt.Errorf("metadata record of %d bytes: %w", len(data), ErrTruncatedInput)
	}
	if !bytes.Equal(data[:4], []byte(metadataMagic)) {
		return nil, fmt.Errorf("unrecognized metadata header")
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("unsupported metadata format version %d", data[4])
	}

	algorithm, err := algorithmFromCode(data[5])
	if err != nil {
		return nil, err
	}

	return &EncryptedMetadata{
		Algorithm: algorithm,
		Nonce:     append([]byte(nil), data[6:6+nonceSize]...),
		Sealed:    append([]byte(nil), data[metadataHeaderSize:]...),
	}, nil
}
