package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoText is returned when a readable PDF carries no extractable text,
// typically a scanned image.
var ErrNoText = errors.New("no text content found in pdf")

// Info describes a validated PDF.
type Info struct {
	Pages int `json:"pages"`
}

// Inspect parses and validates a PDF payload.
func Inspect(data []byte) (Info, error) {
	ctx, err := read(data)
	if err != nil {
		return Info{}, err
	}
	return Info{Pages: ctx.PageCount}, nil
}

// Extract returns the text shown on every page, one line per page.
func Extract(data []byte) (string, error) {
	ctx, err := read(data)
	if err != nil {
		return "", err
	}

	var pages []string
	for nr := 1; nr <= ctx.PageCount; nr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, nr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		if text := textFromContent(content); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n"), nil
}

func read(data []byte) (*model.Context, error) {
	if len(data) == 0 {
		return nil, errors.New("empty pdf payload")
	}
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return ctx, nil
}

var literalString = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// textFromContent collects the string operands of the text-showing operators
// (Tj, TJ, ' and ") in a page content stream.
func textFromContent(content []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(content, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
			continue
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte(' ')
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			sb.WriteByte(' ')
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")),
			bytes.HasSuffix(line, []byte("'")), bytes.HasSuffix(line, []byte(`"`)):
			for _, m := range literalString.FindAllSubmatch(line, -1) {
				sb.WriteString(unescape(m[1]))
			}
		}
	}
	return squeeze(sb.String())
}

func unescape(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 == len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n', 'r', 't':
			sb.WriteByte(' ')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			val, n := 0, 0
			for n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7' {
				val = val*8 + int(raw[i]-'0')
				i++
				n++
			}
			i--
			sb.WriteByte(byte(val))
		default:
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

func squeeze(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = sb.Len() > 0
		case unicode.IsPrint(r):
			if space {
				sb.WriteByte(' ')
				space = false
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
