// Package share turns a recording into a compact token that fits in a URL
// fragment or a single command-line argument, and back.
//
// A token is the recording's JSON document, DEFLATE-compressed at the highest
// level and encoded as unpadded base64url, so it only contains [A-Za-z0-9_-].
package share

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/jamesainslie/rewind/pkg/rewind/recording"
)

// MaxDecodedSize bounds the decompressed document.
const MaxDecodedSize = 512 << 20

var maxDecodedSize int64 = MaxDecodedSize

// FragmentKey prefixes the token in a share URL fragment.
const FragmentKey = "data="

// ErrCorruptToken is returned for any token that cannot be decoded.
var ErrCorruptToken = errors.New("corrupt share token")

var encoding = base64.RawURLEncoding

type options struct {
	stripContent bool
}

// Option configures Encode.
type Option func(*options)

// WithoutContent drops embedded file content before encoding.
func WithoutContent() Option {
	return func(o *options) { o.stripContent = true }
}

// Encode serialises rec into a token.
func Encode(rec *recording.Recording, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.stripContent {
		rec = rec.WithoutContent()
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding recording: %w", err)
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(doc); err != nil {
		return "", fmt.Errorf("compressing recording: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing recording: %w", err)
	}
	return encoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses a token, or a URL carrying one in its "#data=" fragment.
// Every failure wraps ErrCorruptToken.
func Decode(input string) (*recording.Recording, error) {
	token := Extract(input)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrCorruptToken)
	}

	compressed, err := encoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptToken, err)
	}

	zr := flate.NewReader(bytes.NewReader(compressed))
	defer zr.Close()
	doc, err := io.ReadAll(io.LimitReader(zr, maxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptToken, err)
	}
	if int64(len(doc)) > maxDecodedSize {
		return nil, fmt.Errorf("%w: decoded size exceeds %d bytes", ErrCorruptToken, maxDecodedSize)
	}

	rec, err := recording.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptToken, err)
	}
	return rec, nil
}

// Extract returns the token inside input. Input that is not a URL with a
// data fragment is returned trimmed.
func Extract(input string) string {
	input = strings.TrimSpace(input)
	i := strings.IndexByte(input, '#')
	if i < 0 {
		return input
	}
	fragment := input[i+1:]
	for _, part := range strings.Split(fragment, "&") {
		if v, ok := strings.CutPrefix(part, FragmentKey); ok {
			if unescaped, err := url.QueryUnescape(v); err == nil {
				return unescaped
			}
			return v
		}
	}
	return fragment
}

// URL appends token to base as a "#data=" fragment, replacing any fragment
// base already has.
func URL(base, token string) string {
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + "#" + FragmentKey + token
}
