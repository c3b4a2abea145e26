package providers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"slidespeaker/internal/config"
)

// Media drives the external encoder for audio/video composition.
type Media interface {
	// ProbeDuration returns the duration of a media file in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// ConcatAudio joins audio files into one MP3.
	ConcatAudio(ctx context.Context, inputs []string, outPath string) error
	// ComposeSlideshow renders a video from per-unit image/audio pairs,
	// optionally burning in a subtitle file. Unit order is preserved.
	ComposeSlideshow(ctx context.Context, images, audios []string, subtitlePath, outPath string) error
	// ExtractText extracts plain text from a PDF or slide document.
	ExtractText(ctx context.Context, docPath string) (string, error)
	// RenderPages converts document pages to PNG images under outDir,
	// returning the image paths in page order.
	RenderPages(ctx context.Context, docPath, outDir string) ([]string, error)
}

// FFmpeg shells out to ffmpeg/ffprobe plus the document tooling
// (pdftotext, libreoffice, pdftoppm) for extraction and rendering.
type FFmpeg struct {
	bin string
}

// NewFFmpeg creates the encoder wrapper from the process configuration.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{bin: config.FFmpegBin}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if len(detail) > 400 {
			detail = detail[len(detail)-400:]
		}
		return fmt.Errorf("%s failed: %w: %s", name, err, detail)
	}
	return nil
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration for %s: %w", path, err)
	}
	return duration, nil
}

func (f *FFmpeg) ConcatAudio(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no audio inputs to concatenate")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outPath, err)
	}

	listFile, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())
	for _, input := range inputs {
		fmt.Fprintf(listFile, "file '%s'\n", input)
	}
	listFile.Close()

	return runCommand(ctx, f.bin,
		"-y", "-f", "concat", "-safe", "0",
		"-i", listFile.Name(),
		"-c:a", "libmp3lame", "-q:a", "2",
		outPath,
	)
}

func (f *FFmpeg) ComposeSlideshow(ctx context.Context, images, audios []string, subtitlePath, outPath string) error {
	if len(images) == 0 || len(images) != len(audios) {
		return fmt.Errorf("slideshow needs matching image/audio counts, got %d/%d", len(images), len(audios))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outPath, err)
	}

	// Render one segment per unit, then concat. Keeps memory flat for
	// large decks.
	tmpDir, err := os.MkdirTemp("", "compose-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	segments := make([]string, 0, len(images))
	for i := range images {
		segment := filepath.Join(tmpDir, fmt.Sprintf("segment_%03d.mp4", i))
		err := runCommand(ctx, f.bin,
			"-y", "-loop", "1",
			"-i", images[i],
			"-i", audios[i],
			"-c:v", "libx264", "-tune", "stillimage",
			"-c:a", "aac", "-b:a", "192k",
			"-pix_fmt", "yuv420p", "-shortest",
			segment,
		)
		if err != nil {
			return err
		}
		segments = append(segments, segment)
	}

	listFile := filepath.Join(tmpDir, "segments.txt")
	var list strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&list, "file '%s'\n", segment)
	}
	if err := os.WriteFile(listFile, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write segment list: %w", err)
	}

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listFile}
	if subtitlePath != "" {
		args = append(args, "-vf", "subtitles="+subtitlePath)
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, outPath)
	return runCommand(ctx, f.bin, args...)
}

func (f *FFmpeg) ExtractText(ctx context.Context, docPath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(docPath))
	pdfPath := docPath
	if ext != ".pdf" {
		// Convert slide decks to PDF first.
		tmpDir, err := os.MkdirTemp("", "extract-")
		if err != nil {
			return "", fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		if err := runCommand(ctx, "libreoffice", "--headless", "--convert-to", "pdf", "--outdir", tmpDir, docPath); err != nil {
			return "", err
		}
		base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
		pdfPath = filepath.Join(tmpDir, base+".pdf")
	}

	outFile, err := os.CreateTemp("", "text-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	outFile.Close()
	defer os.Remove(outFile.Name())

	if err := runCommand(ctx, "pdftotext", "-layout", pdfPath, outFile.Name()); err != nil {
		return "", err
	}
	text, err := os.ReadFile(outFile.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read extracted text: %w", err)
	}
	return string(text), nil
}

func (f *FFmpeg) RenderPages(ctx context.Context, docPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outDir, err)
	}
	ext := strings.ToLower(filepath.Ext(docPath))
	pdfPath := docPath
	if ext != ".pdf" {
		if err := runCommand(ctx, "libreoffice", "--headless", "--convert-to", "pdf", "--outdir", outDir, docPath); err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
		pdfPath = filepath.Join(outDir, base+".pdf")
	}

	prefix := filepath.Join(outDir, "page")
	if err := runCommand(ctx, "pdftoppm", "-png", "-r", "150", pdfPath, prefix); err != nil {
		return nil, err
	}
	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages rendered from %s", docPath)
	}
	// Glob returns lexical order; pdftoppm zero-pads page numbers.
	return pages, nil
}
