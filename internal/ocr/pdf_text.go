package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	sourcePdftotext = "pdftotext"
	sourcePDFCPU    = "pdfcpu"
)

// textLayer reads the embedded text of a PDF. pdftotext is tried first and
// pdfcpu second; an error means neither tool could open the file.
func (e *Extractor) textLayer(ctx context.Context, path string) (text, source string, warnings []string, err error) {
	out, stderr, runErr := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if runErr == nil {
		return string(out), sourcePdftotext, nil, nil
	}
	warnings = append(warnings, "pdftotext: "+firstLine(stderr, runErr))
	if ctx.Err() != nil {
		return "", "", warnings, ctx.Err()
	}
	if e.cfg.DisablePDFCPU {
		return "", "", warnings, fmt.Errorf("%w: pdftotext: %v", ErrUnreadable, runErr)
	}

	text, cpuErr := pdfcpuText(path)
	if cpuErr != nil {
		warnings = append(warnings, "pdfcpu: "+cpuErr.Error())
		return "", "", warnings, fmt.Errorf("%w: pdftotext: %v; pdfcpu: %v", ErrUnreadable, runErr, cpuErr)
	}
	e.logger.Debug("text layer from pdfcpu", "path", path, "chars", len(text))
	return text, sourcePDFCPU, warnings, nil
}

// pdfcpuText walks the page content streams in-process.
func pdfcpuText(path string) (text string, err error) {
	defer func() {
		// malformed streams can panic deep inside the parser
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	pages := make([]string, 0, pctx.PageCount)
	for nr := 1; nr <= pctx.PageCount; nr++ {
		r, err := pdfcpu.ExtractPageContent(pctx, nr)
		if err != nil || r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		if t := strings.TrimSpace(decodeContentStream(data)); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// decodeContentStream pulls shown strings out of a page content stream.
// Text positioning operators that move to another line emit a newline so
// label/value pairs stay on their own lines.
func decodeContentStream(data []byte) string {
	var (
		sb      strings.Builder
		strs    []string
		nums    []float64
		lastY   float64
		haveY   bool
		inArray bool
	)
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	space := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") && !strings.HasSuffix(sb.String(), " ") {
			sb.WriteByte(' ')
		}
	}
	show := func() {
		for _, s := range strs {
			sb.WriteString(s)
		}
	}
	reset := func() {
		strs = strs[:0]
		nums = nums[:0]
	}

	i := 0
	for i < len(data) {
		c := data[i]
		switch {
		case isPDFSpace(c):
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteral(data[i:])
			strs = append(strs, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			s, n := readHex(data[i:])
			strs = append(strs, s)
			i += n
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case c == '/':
			j := i + 1
			for j < len(data) && !isPDFSpace(data[j]) && !isPDFDelim(data[j]) {
				j++
			}
			i = j
		default:
			j := i
			for j < len(data) && !isPDFSpace(data[j]) && !isPDFDelim(data[j]) {
				j++
			}
			if j == i {
				i++
				continue
			}
			tok := string(data[i:j])
			i = j
			if f, err := strconv.ParseFloat(tok, 64); err == nil {
				// kerning inside TJ arrays: a large negative gap reads as a space
				if inArray {
					if f < -200 {
						strs = append(strs, " ")
					}
					continue
				}
				nums = append(nums, f)
				continue
			}
			switch tok {
			case "Tj", "TJ":
				show()
			case "'", "\"":
				newline()
				show()
			case "T*":
				newline()
			case "Td", "TD":
				if len(nums) >= 2 && nums[len(nums)-1] != 0 {
					newline()
				} else {
					space()
				}
			case "Tm":
				if len(nums) >= 6 {
					y := nums[len(nums)-1]
					if haveY && y != lastY {
						newline()
					} else {
						space()
					}
					lastY, haveY = y, true
				}
			case "ET":
				space()
			}
			reset()
		}
	}
	return sb.String()
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

// readLiteral decodes a balanced (...) string starting at b[0] and returns
// the text plus the bytes consumed.
func readLiteral(b []byte) (string, int) {
	var sb strings.Builder
	depth := 0
	i := 0
	for i < len(b) {
		c := b[i]
		switch c {
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		case '\\':
			i++
			if i >= len(b) {
				break
			}
			switch e := b[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v, n := 0, 0
					for n < 3 && i < len(b) && b[i] >= '0' && b[i] <= '7' {
						v = v*8 + int(b[i]-'0')
						i++
						n++
					}
					i--
					sb.WriteRune(rune(v))
				} else {
					sb.WriteByte(e)
				}
			}
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), len(b)
}

// readHex decodes a <...> string. Two-byte values are read as UTF-16BE when
// the string carries a BOM, single bytes otherwise.
func readHex(b []byte) (string, int) {
	end := strings.IndexByte(string(b), '>')
	if end < 0 {
		return "", len(b)
	}
	var digits []byte
	for _, c := range b[1:end] {
		if !isPDFSpace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for k := 0; k+1 < len(digits); k += 2 {
		v, err := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		if err != nil {
			return "", end + 1
		}
		raw = append(raw, byte(v))
	}
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		var sb strings.Builder
		for k := 2; k+1 < len(raw); k += 2 {
			sb.WriteRune(rune(raw[k])<<8 | rune(raw[k+1]))
		}
		return sb.String(), end + 1
	}
	var sb strings.Builder
	for _, c := range raw {
		sb.WriteRune(rune(c))
	}
	return sb.String(), end + 1
}
