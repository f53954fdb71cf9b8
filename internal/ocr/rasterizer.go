package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Raster backend names accepted in ocr.backends.
const (
	BackendPdftoppm    = "pdftoppm"
	BackendPdftocairo  = "pdftocairo"
	BackendGhostscript = "ghostscript"
)

// DefaultBackends is the render order used when none is configured.
var DefaultBackends = []string{BackendPdftoppm, BackendPdftocairo, BackendGhostscript}

// Rasterizer renders PDF pages to PNG images through a chain of external
// renderers. The first backend that produces at least one image wins.
type Rasterizer struct {
	bins     map[string]string
	backends []string
	runner   Runner
	logger   *slog.Logger
}

// NewRasterizer builds the chain from the configured binaries and backend order.
func NewRasterizer(cfg Config, runner Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{logger: logger}
	}
	backends := cfg.Backends
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	return &Rasterizer{
		bins: map[string]string{
			BackendPdftoppm:    cfg.Pdftoppm,
			BackendPdftocairo:  cfg.Pdftocairo,
			BackendGhostscript: cfg.Ghostscript,
		},
		backends: backends,
		runner:   runner,
		logger:   logger,
	}
}

// Render rasterizes pages 1..maxPages of pdfPath at dpi into workDir and
// returns the images in page order. A failed chain yields an empty list.
func (r *Rasterizer) Render(ctx context.Context, pdfPath, workDir string, maxPages, dpi int) ([]string, string) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	for i, name := range r.backends {
		if ctx.Err() != nil {
			return nil, ""
		}
		name = strings.ToLower(strings.TrimSpace(name))
		bin, ok := r.bins[name]
		if !ok || bin == "" {
			r.logger.Warn("unknown raster backend, skipping", "backend", name)
			continue
		}

		dir := filepath.Join(workDir, fmt.Sprintf("%02d-%s", i, name))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.logger.Warn("raster dir create failed", "dir", dir, "error", err)
			continue
		}
		prefix := filepath.Join(dir, "page")

		if _, stderr, err := r.runner.Run(ctx, bin, backendArgs(name, pdfPath, prefix, maxPages, dpi)...); err != nil {
			r.logger.Warn("raster backend failed", "backend", name, "error", err, "stderr", firstLine(stderr, nil))
			continue
		}

		images := collectPages(dir)
		if maxPages > 0 && len(images) > maxPages {
			images = images[:maxPages]
		}
		if len(images) == 0 {
			r.logger.Warn("raster backend produced no images", "backend", name)
			continue
		}
		r.logger.Debug("rasterized pdf", "backend", name, "pages", len(images), "dpi", dpi)
		return images, name
	}
	return nil, ""
}

func backendArgs(name, pdfPath, prefix string, maxPages, dpi int) []string {
	res := strconv.Itoa(dpi)
	switch name {
	case BackendPdftoppm:
		args := []string{"-r", res, "-png"}
		if maxPages > 0 {
			args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
		}
		return append(args, pdfPath, prefix)
	case BackendPdftocairo:
		args := []string{"-png", "-r", res}
		if maxPages > 0 {
			args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
		}
		return append(args, pdfPath, prefix)
	default:
		args := []string{"-dSAFER", "-dBATCH", "-dNOPAUSE", "-dQUIET", "-sDEVICE=png16m", "-r" + res}
		if maxPages > 0 {
			args = append(args, "-dFirstPage=1", "-dLastPage="+strconv.Itoa(maxPages))
		}
		return append(args, "-sOutputFile="+prefix+"-%03d.png", pdfPath)
	}
}

// collectPages lists the PNGs a backend wrote, sorted by their page suffix.
// pdftoppm pads page numbers by document length, so lexical order is not enough.
func collectPages(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return pageNumber(matches[i]) < pageNumber(matches[j])
	})
	return matches
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndexByte(base, '-')
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
