// Package dataref encodes binary media as self-describing data references
// of the form data:<mime>;base64,<payload>.
package dataref

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	scheme       = "data:"
	base64Marker = ";base64"
)

var (
	ErrEmptyPayload = errors.New("dataref: empty payload")
	ErrMalformed    = errors.New("dataref: malformed data reference")
)

// Ref is a decoded data reference.
type Ref struct {
	MIME string
	Data []byte
}

// Encode builds a data reference. When mimeType is empty or generic the
// type is sniffed from the payload.
func Encode(mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	mimeType = normalizeMIME(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = Detect(data)
	}
	return scheme + mimeType + base64Marker + "," + base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a base64 data reference.
func Decode(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, scheme) {
		return Ref{}, fmt.Errorf("%w: missing data scheme", ErrMalformed)
	}

	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, scheme), ",")
	if !ok {
		return Ref{}, fmt.Errorf("%w: missing payload separator", ErrMalformed)
	}
	if !strings.HasSuffix(meta, base64Marker) {
		return Ref{}, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformed)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) == 0 {
		return Ref{}, ErrEmptyPayload
	}

	mimeType := normalizeMIME(strings.TrimSuffix(meta, base64Marker))
	if mimeType == "" {
		mimeType = Detect(data)
	}
	return Ref{MIME: mimeType, Data: data}, nil
}

// Detect sniffs the MIME type of data, without parameters.
func Detect(data []byte) string {
	return normalizeMIME(mimetype.Detect(data).String())
}

// AudioFormat maps an audio MIME type to the short container name the
// speech provider expects ("wav", "mp3", "ogg", ...).
func AudioFormat(mimeType string) string {
	switch normalizeMIME(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg", "application/ogg", "audio/opus":
		return "ogg"
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/mp4", "audio/x-m4a", "video/mp4":
		return "m4a"
	case "audio/aac", "audio/x-aac":
		return "aac"
	case "audio/pcm", "audio/l16":
		return "pcm"
	}
	if mt := mimetype.Lookup(normalizeMIME(mimeType)); mt != nil {
		if ext := strings.TrimPrefix(mt.Extension(), "."); ext != "" {
			return ext
		}
	}
	return "wav"
}

// IsImage reports whether the MIME type names an image.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(normalizeMIME(mimeType), "image/")
}

// IsAudio reports whether the MIME type names audio. WebM and MP4 containers
// recorded by browsers sniff as video, so those count too.
func IsAudio(mimeType string) bool {
	mt := normalizeMIME(mimeType)
	return strings.HasPrefix(mt, "audio/") || mt == "video/webm" || mt == "video/mp4" || mt == "application/ogg"
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
