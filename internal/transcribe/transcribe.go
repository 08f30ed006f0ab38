// Package transcribe turns recorded voice notes into step text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sanctuary/internal/metrics"
)

// MaxAudioBytes is the upstream per-file limit.
const MaxAudioBytes = 25 << 20

const defaultTimeout = 120 * time.Second

var (
	// ErrNoSpeech means the audio was accepted but contained nothing to transcribe.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrNoAudio is returned when the request carried no audio payload.
	ErrNoAudio = errors.New("no audio provided")
	// ErrAudioTooLarge is returned for payloads over MaxAudioBytes.
	ErrAudioTooLarge = errors.New("audio exceeds size limit")
	// ErrInvalidAudio is returned when the payload is not valid base64.
	ErrInvalidAudio = errors.New("audio is not valid base64")
)

// Transcriber is the speech-to-text upstream.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

type Service struct {
	upstream Transcriber
	logger   *slog.Logger
	timeout  time.Duration
}

func NewService(upstream Transcriber, logger *slog.Logger) *Service {
	return &Service{upstream: upstream, logger: logger, timeout: defaultTimeout}
}

// Transcribe sends audio upstream once and returns the trimmed transcript.
func (s *Service) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}
	if len(audio) > MaxAudioBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrAudioTooLarge, len(audio))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filename := "audio." + Extension(mimeType)
	s.logger.Info("transcribing audio", "bytes", len(audio), "mime_type", mimeType, "filename", filename)

	text, err := s.upstream.Transcribe(ctx, bytes.NewReader(audio), filename)
	if err != nil {
		metrics.Transcriptions.WithLabelValues("error").Inc()
		s.logger.Error("transcription failed", "error", err)
		return "", fmt.Errorf("transcribe audio: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Transcriptions.WithLabelValues("no_speech").Inc()
		return "", ErrNoSpeech
	}
	metrics.Transcriptions.WithLabelValues("ok").Inc()
	return text, nil
}

// Extension picks the upload file extension the upstream uses to sniff the
// container format.
func Extension(mimeType string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "mp4"):
		return "mp4"
	case strings.Contains(m, "ogg"):
		return "ogg"
	case strings.Contains(m, "wav"):
		return "wav"
	default:
		return "webm"
	}
}

// DecodeAudio decodes a base64 payload, tolerating a data: URL prefix and
// missing padding.
func DecodeAudio(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, ErrNoAudio
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, ErrInvalidAudio
		}
	}
	if len(data) == 0 {
		return nil, ErrNoAudio
	}
	if len(data) > MaxAudioBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrAudioTooLarge, len(data))
	}
	return data, nil
}
