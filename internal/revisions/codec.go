package revisions

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// encodedContent is the storable form of a note body: a gzip payload plus the
// content-addressing hash computed over the uncompressed bytes.
type encodedContent struct {
	compressed []byte
	hash       string
	rawSize    int64
	storedSize int64
}

// normalizeContent maps a missing body to the empty string before encoding.
func normalizeContent(content *string) string {
	if content == nil {
		return ""
	}
	return *content
}

func encodeContent(content string) (encodedContent, error) {
	raw := []byte(content)
	sum := sha256.Sum256(raw)

	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(raw); err != nil {
		return encodedContent{}, err
	}
	if err := writer.Close(); err != nil {
		return encodedContent{}, err
	}

	compressed := buffer.Bytes()
	return encodedContent{
		compressed: compressed,
		hash:       hex.EncodeToString(sum[:]),
		rawSize:    int64(len(raw)),
		storedSize: int64(len(compressed)),
	}, nil
}

func decodeContent(compressed []byte) (string, error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if err := reader.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return string(raw), nil
}
