// Package classify determines the true media kind of decrypted content by
// inspecting its leading bytes. Detection is evidence-based on purpose: the
// declared content type recovered from metadata is frequently a generic
// placeholder and is never consulted here.
package classify

import (
	"bytes"
	"unicode"
	"unicode/utf8"
)

// Kind is the detected media kind of a byte buffer.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindPDF    Kind = "pdf"
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
	KindBinary Kind = "binary"
)

// Result is the outcome of a classification. Confidence is 1.0 for an exact
// signature match, lower for heuristic matches, and 0 for the binary fallback.
type Result struct {
	Kind       Kind
	Confidence float64
}

// signature is a single magic-byte rule. A rule matches when every listed
// fragment appears at its offset within the buffer.
type signature struct {
	kind       Kind
	confidence float64
	fragments  []fragment
}

type fragment struct {
	offset int
	data   []byte
}

// signatures is consulted in order; the first match wins. Priority per kind:
// pdf, then image formats, then audio, then video. Container formats that
// share an outer marker (RIFF, ftyp) are disambiguated by an inner fragment
// and must appear before any bare outer-marker rule would.
var signatures = []signature{
	// PDF
	{KindPDF, 1.0, frags(f(0, "%PDF"))},

	// Images
	{KindImage, 1.0, frags(f(0, "\x89PNG\r\n\x1a\n"))},
	{KindImage, 1.0, frags(f(0, "\xff\xd8\xff"))},
	{KindImage, 1.0, frags(f(0, "GIF87a"))},
	{KindImage, 1.0, frags(f(0, "GIF89a"))},
	// "BM" alone collides with ordinary text; require the BMP header's
	// reserved zero bytes the way RIFF rules require an inner fragment.
	{KindImage, 1.0, frags(f(0, "BM"), f(6, "\x00\x00\x00\x00"))},
	{KindImage, 1.0, frags(f(0, "RIFF"), f(8, "WEBP"))},

	// Audio
	{KindAudio, 1.0, frags(f(0, "ID3"))},
	{KindAudio, 1.0, frags(f(0, "fLaC"))},
	{KindAudio, 1.0, frags(f(0, "OggS"))},
	{KindAudio, 1.0, frags(f(0, "RIFF"), f(8, "WAVE"))},
	{KindAudio, 1.0, frags(f(4, "ftypM4A"))},
	{KindAudio, 0.6, frags(f(0, "\xff\xfb"))}, // bare MPEG-1 layer 3 frame sync
	{KindAudio, 0.6, frags(f(0, "\xff\xf3"))},

	// Video
	{KindVideo, 1.0, frags(f(4, "ftyp"))},
	{KindVideo, 1.0, frags(f(0, "\x1a\x45\xdf\xa3"))}, // EBML: webm/mkv
	{KindVideo, 1.0, frags(f(0, "RIFF"), f(8, "AVI "))},
}

func f(offset int, data string) fragment { return fragment{offset: offset, data: []byte(data)} }
func frags(fs ...fragment) []fragment    { return fs }

// textProbeSize bounds how much of a buffer the text heuristic inspects.
const textProbeSize = 512

// Classify inspects the leading bytes of content and reports its detected
// kind. Pure and side-effect-free; an empty buffer classifies as binary.
func Classify(content []byte) Result {
	if len(content) == 0 {
		return Result{Kind: KindBinary}
	}

	for _, sig := range signatures {
		if sig.matches(content) {
			return Result{Kind: sig.kind, Confidence: sig.confidence}
		}
	}

	if looksLikeText(content) {
		return Result{Kind: KindText, Confidence: 0.8}
	}
	return Result{Kind: KindBinary}
}

func (s signature) matches(content []byte) bool {
	for _, fr := range s.fragments {
		end := fr.offset + len(fr.data)
		if end > len(content) || !bytes.Equal(content[fr.offset:end], fr.data) {
			return false
		}
	}
	return true
}

// looksLikeText reports whether a bounded prefix decodes as valid UTF-8 with
// no control bytes outside common whitespace.
func looksLikeText(content []byte) bool {
	probe := content
	if len(probe) > textProbeSize {
		probe = probe[:textProbeSize]
		// Avoid judging a rune split by the probe boundary.
		for len(probe) > 0 && !utf8.RuneStart(probe[len(probe)-1]) {
			probe = probe[:len(probe)-1]
		}
		if len(probe) > 0 {
			if r, _ := utf8.DecodeLastRune(probe); r == utf8.RuneError {
				probe = probe[:len(probe)-1]
			}
		}
	}

	if len(probe) == 0 || !utf8.Valid(probe) {
		return false
	}
	for _, r := range string(probe) {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return false
		}
		if r == utf8.RuneError {
			return false
		}
		if unicode.Is(unicode.Cc, r) {
			return false
		}
	}
	return true
}
