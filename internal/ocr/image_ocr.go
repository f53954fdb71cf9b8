package ocr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
)

// ocrImage runs tesseract on one raster and returns the recognized text.
func (e *Extractor) ocrImage(ctx context.Context, imagePath string) (string, error) {
	out, stderr, err := e.runner.Run(ctx, e.cfg.Tesseract, e.tesseractArgs(imagePath)...)
	if err != nil {
		if engineMissing(err) {
			return "", fmt.Errorf("%w: %s", ErrOCREngineMissing, e.cfg.Tesseract)
		}
		return "", fmt.Errorf("tesseract: %s", firstLine(stderr, err))
	}
	return string(out), nil
}

// engineMissing reports whether err means the binary could not be started:
// not on PATH, or an absolute path that does not exist.
func engineMissing(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func (e *Extractor) tesseractArgs(imagePath string, extra ...string) []string {
	args := []string{imagePath, "stdout", "-l", e.cfg.Lang, "--psm", strconv.Itoa(e.cfg.PSM)}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return append(args, extra...)
}

// ocrPages OCRs each image and joins the page texts with a blank line.
// Per-page failures become warnings. A missing engine aborts, and so does a
// run where every page failed, wrapped in ErrUnreadable.
func (e *Extractor) ocrPages(ctx context.Context, images []string) (string, float32, []string, error) {
	var (
		pages    []string
		warnings []string
		confSum  float32
		confN    int
	)
	for i, img := range images {
		if ctx.Err() != nil {
			return strings.Join(pages, "\n\n"), 0, warnings, ctx.Err()
		}
		txt, err := e.ocrImage(ctx, img)
		if err != nil {
			if errors.Is(err, ErrOCREngineMissing) {
				return "", 0, warnings, err
			}
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i+1, err))
			continue
		}
		if t := strings.TrimSpace(txt); t != "" {
			pages = append(pages, t)
		}
		if e.cfg.EnableTSVConfidence {
			if c, ok := e.tsvConfidence(ctx, img); ok {
				confSum += c
				confN++
			}
		}
	}
	if len(images) > 0 && len(warnings) == len(images) {
		return "", 0, warnings, fmt.Errorf("%w: tesseract could not read any page: %s", ErrUnreadable, warnings[0])
	}
	var conf float32
	if confN > 0 {
		conf = confSum / float32(confN)
	}
	return strings.Join(pages, "\n\n"), conf, warnings, nil
}

// tsvConfidence returns tesseract's mean word confidence (0..1) for an image.
func (e *Extractor) tsvConfidence(ctx context.Context, imagePath string) (float32, bool) {
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, e.tesseractArgs(imagePath, "tsv")...)
	if err != nil {
		return 0, false
	}
	return parseTSVConfidence(string(out))
}

// parseTSVConfidence averages the conf column of word rows (level 5) that
// carry text. Rows with conf -1 are layout-only and skipped.
func parseTSVConfidence(tsv string) (float32, bool) {
	lines := strings.Split(tsv, "\n")
	if len(lines) < 2 {
		return 0, false
	}
	var sum float64
	var n int
	for _, ln := range lines[1:] {
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || cols[0] != "5" || strings.TrimSpace(cols[11]) == "" {
			continue
		}
		c, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || c < 0 {
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0, false
	}
	return float32(sum / float64(n) / 100), true
}
