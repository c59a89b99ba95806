package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MediaDownloader fetches robot message attachments by download code.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, downloadCode string) ([]byte, error)
}

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Config struct {
	WorkDir    string
	FFmpegPath string
}

// Processor turns a voice attachment into text: download the file, transcode
// AMR to something the recognizer accepts, transcribe, clean up.
type Processor struct {
	downloader  MediaDownloader
	transcriber Transcriber
	workDir     string
	ffmpegPath  string
	log         *zap.Logger
}

func NewProcessor(cfg Config, downloader MediaDownloader, transcriber Transcriber, log *zap.Logger) (*Processor, error) {
	if downloader == nil {
		return nil, errors.New("voice processor requires a media downloader")
	}
	if transcriber == nil {
		return nil, errors.New("voice processor requires a transcriber")
	}
	if log == nil {
		log = zap.NewNop()
	}

	workDir := strings.TrimSpace(cfg.WorkDir)
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "dingtalk-ai-assistant")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffmpegPath, err := exec.LookPath(ffmpeg)
	if err != nil {
		// Transcoding degrades gracefully; the original AMR file is sent as-is.
		log.Warn("ffmpeg not found, audio transcode disabled", zap.String("ffmpeg", ffmpeg))
		ffmpegPath = ""
	}

	return &Processor{
		downloader:  downloader,
		transcriber: transcriber,
		workDir:     workDir,
		ffmpegPath:  ffmpegPath,
		log:         log,
	}, nil
}

// Process downloads the attachment behind downloadCode and returns the
// recognized text. Temp files are removed before returning.
func (p *Processor) Process(ctx context.Context, downloadCode string) (string, error) {
	data, err := p.downloader.DownloadMedia(ctx, downloadCode)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}

	amrPath := filepath.Join(p.workDir, "audio_"+uuid.NewString()+".amr")
	if err := os.WriteFile(amrPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	defer os.Remove(amrPath)

	audioPath := p.transcode(ctx, amrPath)
	if audioPath != amrPath {
		defer os.Remove(audioPath)
	}

	text, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// transcode converts AMR to 16 kHz mono MP3. Any failure falls back to the
// original file.
func (p *Processor) transcode(ctx context.Context, amrPath string) string {
	if p.ffmpegPath == "" {
		return amrPath
	}

	mp3Path := strings.TrimSuffix(amrPath, filepath.Ext(amrPath)) + ".mp3"
	cmd := exec.CommandContext(ctx, p.ffmpegPath, "-i", amrPath, "-ar", "16000", "-ac", "1", mp3Path, "-y")
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		// ffmpeg is chatty on failure; keep the log line readable.
		if len(detail) > 2<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(2<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		p.log.Warn("ffmpeg transcode failed, using original audio", zap.String("detail", detail))
		_ = os.Remove(mp3Path)
		return amrPath
	}
	return mp3Path
}
