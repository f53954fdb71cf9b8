package ocr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"horizontal whitespace", "Process:\t\t GMAW    135", "Process: GMAW 135"},
		{"box noise", "Header\n________\n| | |\n=====\nValue", "Header\n\n| | |\n\nValue"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"form feed", "page1\fpage2", "page1\n\npage2"},
		{"dates untouched", "Date: 2O24-O1-15 10/03/2024", "Date: 2O24-O1-15 10/03/2024"},
		{"trim", "  \n hello \n  ", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestTextChars(t *testing.T) {
	assert.Equal(t, 0, textChars(" \n\t\f"))
	assert.Equal(t, 6, textChars("WPS 001"))
	assert.Equal(t, 50, textChars(strings.Repeat("x ", 50)))
}

func TestDecodeContentStream(t *testing.T) {
	stream := []byte(`BT
/F1 12 Tf
72 700 Td
(WPS No: WPS-001) Tj
0 -14 Td
(Process: GMAW) Tj
0 -14 Td
[(Mate) 10 (rial:) -400 (S355)] TJ
(Filler \(ER70S-6\)) '
<FEFF0050006F0073> Tj
ET`)
	got := strings.TrimSpace(decodeContentStream(stream))
	assert.Equal(t, "WPS No: WPS-001\nProcess: GMAW\nMaterial: S355\nFiller (ER70S-6)Pos", got)
}

func TestDecodeContentStream_TmLines(t *testing.T) {
	stream := []byte(`BT 1 0 0 1 50 700 Tm (PQR) Tj 1 0 0 1 90 700 Tm (No. 12) Tj 1 0 0 1 50 680 Tm (Date) Tj ET`)
	assert.Equal(t, "PQR No. 12\nDate", strings.TrimSpace(decodeContentStream(stream)))
}
