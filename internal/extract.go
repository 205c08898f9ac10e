package internal

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Extractor turns raw document bytes into text segments. Implementations
// return errors wrapping ErrExtraction so one bad file never aborts a run.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) ([]Segment, error)
}

// CommandRunner runs an external tool with stdin and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

type ExtractConfig struct {
	OCR       bool
	Languages string
	PDFToText string
	PDFToPPM  string
	Tesseract string
	Runner    CommandRunner
}

func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		OCR:       true,
		Languages: "tha+eng",
		PDFToText: "pdftotext",
		PDFToPPM:  "pdftoppm",
		Tesseract: "tesseract",
	}
}

// Extractors dispatches on the lower-cased file extension.
type Extractors struct {
	byExt map[string]Extractor
}

func NewExtractors(cfg ExtractConfig) *Extractors {
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	plain := PlainTextExtractor{}
	ocr := &ImageExtractor{cfg: cfg}
	pdf := &PDFExtractor{cfg: cfg, ocr: ocr}

	e := &Extractors{byExt: map[string]Extractor{
		".txt":  plain,
		".md":   plain,
		".csv":  plain,
		".docx": DocxExtractor{},
		".pdf":  pdf,
	}}
	if cfg.OCR {
		for _, ext := range []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"} {
			e.byExt[ext] = ocr
		}
	}
	return e
}

// Register installs or replaces the extractor for ext (".pdf").
func (e *Extractors) Register(ext string, x Extractor) {
	e.byExt[strings.ToLower(ext)] = x
}

func (e *Extractors) Supported() []string {
	exts := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether name has a registered extension.
func (e *Extractors) Supports(name string) bool {
	_, ok := e.byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (e *Extractors) Extract(ctx context.Context, name string, data []byte) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(name))
	x, ok := e.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, name, ErrUnsupportedFormat)
	}

	segments, err := x.Extract(ctx, name, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, name, err)
	}
	return segments, nil
}

type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, name string, data []byte) ([]Segment, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8", name)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	return nonEmpty([]Segment{{Text: text}}), nil
}

type DocxExtractor struct{}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

func (DocxExtractor) Extract(_ context.Context, _ string, data []byte) ([]Segment, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}

		var doc docxDocument
		if err := xml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("parse document.xml: %w", err)
		}

		var sb strings.Builder
		for i, p := range doc.Body.Paragraphs {
			if i > 0 {
				sb.WriteString("\n")
			}
			for _, r := range p.Runs {
				for _, t := range r.Text {
					sb.WriteString(t.Content)
				}
			}
		}
		return nonEmpty([]Segment{{Text: strings.TrimSpace(sb.String())}}), nil
	}

	return nil, fmt.Errorf("word/document.xml not found")
}

// PDFExtractor reads the text layer with pdftotext, one segment per page.
// A PDF without a text layer is rasterized and OCR'd when OCR is enabled.
type PDFExtractor struct {
	cfg ExtractConfig
	ocr *ImageExtractor
}

func (p *PDFExtractor) Extract(ctx context.Context, name string, data []byte) ([]Segment, error) {
	out, err := p.cfg.Runner.Run(ctx, data, p.cfg.PDFToText, "-layout", "-enc", "UTF-8", "-", "-")
	if err != nil {
		return nil, err
	}

	segments := nonEmpty(splitPages(string(out)))
	if len(segments) > 0 || !p.cfg.OCR {
		return segments, nil
	}
	return p.ocrPages(ctx, data)
}

func (p *PDFExtractor) ocrPages(ctx context.Context, data []byte) ([]Segment, error) {
	dir, err := os.MkdirTemp("", "docqa-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create ocr dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(src, data, 0600); err != nil {
		return nil, fmt.Errorf("write ocr input: %w", err)
	}

	if _, err := p.cfg.Runner.Run(ctx, nil, p.cfg.PDFToPPM, "-r", "300", "-png", src, filepath.Join(dir, "page")); err != nil {
		return nil, err
	}

	images, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("list rasterized pages: %w", err)
	}
	sort.Slice(images, func(i, j int) bool {
		return pageNumber(images[i]) < pageNumber(images[j])
	})

	var segments []Segment
	for _, img := range images {
		text, err := p.ocr.recognize(ctx, nil, img)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{Text: text, Page: pageNumber(img)})
	}
	return nonEmpty(segments), nil
}

type ImageExtractor struct {
	cfg ExtractConfig
}

func (x *ImageExtractor) Extract(ctx context.Context, _ string, data []byte) ([]Segment, error) {
	text, err := x.recognize(ctx, data, "stdin")
	if err != nil {
		return nil, err
	}
	return nonEmpty([]Segment{{Text: text}}), nil
}

func (x *ImageExtractor) recognize(ctx context.Context, stdin []byte, input string) (string, error) {
	args := []string{input, "stdout"}
	if x.cfg.Languages != "" {
		args = append(args, "-l", x.cfg.Languages)
	}
	out, err := x.cfg.Runner.Run(ctx, stdin, x.cfg.Tesseract, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// splitPages splits pdftotext output on form feeds. Pages are 1-based.
func splitPages(text string) []Segment {
	pages := strings.Split(text, "\f")
	segments := make([]Segment, 0, len(pages))
	for i, page := range pages {
		segments = append(segments, Segment{Text: strings.TrimSpace(page), Page: i + 1})
	}
	return segments
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(base, "-")
	n := 0
	for _, r := range base[idx+1:] {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func nonEmpty(segments []Segment) []Segment {
	out := segments[:0]
	for _, s := range segments {
		if strings.TrimSpace(s.Text) != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
