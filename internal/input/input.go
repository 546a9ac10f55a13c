// Package input normalizes heterogeneous patient input (text, audio,
// image, or any combination) into a canonical ordered list of typed
// content parts plus an input-mode tag. Pure transformation, no I/O.
package input

import (
	"errors"
	"strings"
)

// ErrNoInput is returned when no content is supplied and finalization
// is not being forced.
var ErrNoInput = errors.New("at least one input (text, audio, or image) is required")

// Kind tags a content part.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// Mode records which combination of inputs the patient used.
type Mode string

const (
	ModeText       Mode = "text"
	ModeVoice      Mode = "voice"
	ModeImage      Mode = "image"
	ModeTextVoice  Mode = "text_voice"
	ModeTextImage  Mode = "text_image"
	ModeVoiceImage Mode = "voice_image"
	ModeAll        Mode = "all"
)

// Part is one canonical content part ready to send to the oracle.
type Part struct {
	Kind        Kind
	Data        []byte
	ContentType string
}

// Media is a raw audio or image payload. ContentType may be empty, in
// which case it is inferred from the filename extension.
type Media struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Raw is the unnormalized input to a single report.
type Raw struct {
	Text  string
	Audio *Media
	Image *Media
}

// Fallback content types when extension inference fails.
const (
	DefaultAudioType = "audio/webm"
	DefaultImageType = "image/jpeg"
)

var audioExtTypes = map[string]string{
	".webm": "audio/webm",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
}

var imageExtTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
}

func contentTypeFor(m *Media, extTypes map[string]string, fallback string) string {
	if m.ContentType != "" {
		return m.ContentType
	}
	name := strings.ToLower(m.Filename)
	for ext, ct := range extTypes {
		if strings.HasSuffix(name, ext) {
			return ct
		}
	}
	return fallback
}

// Normalize converts raw input into ordered content parts and a mode tag.
// Media parts come before text so the oracle sees what the caption text
// refers to. When force is set an empty input is allowed (the caller is
// finalizing from conversation history alone).
func Normalize(raw Raw, force bool) ([]Part, Mode, error) {
	hasText := raw.Text != ""
	hasAudio := raw.Audio != nil && len(raw.Audio.Data) > 0
	hasImage := raw.Image != nil && len(raw.Image.Data) > 0

	if !hasText && !hasAudio && !hasImage && !force {
		return nil, "", ErrNoInput
	}

	var parts []Part
	if hasAudio {
		parts = append(parts, Part{
			Kind:        KindAudio,
			Data:        raw.Audio.Data,
			ContentType: contentTypeFor(raw.Audio, audioExtTypes, DefaultAudioType),
		})
	}
	if hasImage {
		parts = append(parts, Part{
			Kind:        KindImage,
			Data:        raw.Image.Data,
			ContentType: contentTypeFor(raw.Image, imageExtTypes, DefaultImageType),
		})
	}
	if hasText {
		parts = append(parts, Part{
			Kind:        KindText,
			Data:        []byte(raw.Text),
			ContentType: "text/plain",
		})
	}

	return parts, classify(hasText, hasAudio, hasImage), nil
}

func classify(hasText, hasAudio, hasImage bool) Mode {
	switch {
	case hasText && hasAudio && hasImage:
		return ModeAll
	case hasText && hasImage:
		return ModeTextImage
	case hasText && hasAudio:
		return ModeTextVoice
	case hasAudio && hasImage:
		return ModeVoiceImage
	case hasAudio:
		return ModeVoice
	case hasImage:
		return ModeImage
	default:
		return ModeText
	}
}
