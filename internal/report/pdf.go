// Package report turns a topic into a long-form markdown report and a
// rendered PDF, optionally published to object storage.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/signintech/gopdf"
)

// A4 portrait in points, with 2cm margins on every side.
const (
	pageWidth    = 595.28
	pageHeight   = 841.89
	pageMargin   = 56.69
	contentWidth = pageWidth - 2*pageMargin
)

const fontFamily = "cjk"

// Candidate CJK fonts, probed in order. The .ttc collections are skipped
// automatically on hosts where the font parser cannot read them.
var defaultFontPaths = []string{
	"/usr/share/fonts/truetype/wqy/wqy-zenhei.ttc",
	"/usr/share/fonts/truetype/droid/DroidSansFallbackFull.ttf",
	"/System/Library/Fonts/PingFang.ttc",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
}

type textStyle struct {
	size    float64
	leading float64
	color   [3]uint8
	before  float64
	after   float64
	center  bool
}

var (
	styleTitle    = textStyle{size: 24, leading: 30, color: [3]uint8{0x1a, 0x1a, 0x1a}, after: 30, center: true}
	styleHeading1 = textStyle{size: 18, leading: 22, color: [3]uint8{0x2c, 0x3e, 0x50}, before: 12, after: 12}
	styleHeading2 = textStyle{size: 14, leading: 18, color: [3]uint8{0x34, 0x49, 0x5e}, before: 10, after: 10}
	styleBody     = textStyle{size: 11, leading: 18, color: [3]uint8{0, 0, 0}, after: 10}
)

var (
	numberedLinePattern = regexp.MustCompile(`^\d+\. `)
	boldPattern         = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern       = regexp.MustCompile(`\*([^*]+)\*`)
)

// RendererConfig configures where PDFs land and which fonts to try.
type RendererConfig struct {
	// OutputDir receives the generated files. Defaults to the system
	// temp directory.
	OutputDir string

	// FontPaths overrides the default CJK font candidates.
	FontPaths []string
}

// Renderer lays out markdown report content as a paginated PDF.
type Renderer struct {
	outputDir string
	fontPaths []string
	now       func() time.Time
}

// NewRenderer prepares the output directory and returns a renderer.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create report output dir: %w", err)
	}
	fontPaths := cfg.FontPaths
	if len(fontPaths) == 0 {
		fontPaths = defaultFontPaths
	}
	return &Renderer{
		outputDir: outputDir,
		fontPaths: fontPaths,
		now:       time.Now,
	}, nil
}

// Render writes content as a PDF titled title and returns the file path.
// The layout understands the markdown subset the assistant emits:
// #/##/### headings, -/* bullets, numbered lists and plain paragraphs.
func (r *Renderer) Render(content, title string) (string, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	if err := loadCJKFont(pdf, r.fontPaths); err != nil {
		return "", err
	}
	pdf.AddPage()
	pdf.SetY(pageMargin)

	pg := &page{pdf: pdf}

	now := r.now()
	if err := pg.write(title, styleTitle); err != nil {
		return "", err
	}
	pg.space(14.17)
	stamp := fmt.Sprintf("生成时间：%s", now.Format("2006年01月02日 15:04"))
	if err := pg.write(stamp, styleBody); err != nil {
		return "", err
	}
	pg.space(28.35)

	for _, line := range strings.Split(content, "\n") {
		if err := pg.writeMarkdownLine(strings.TrimSpace(line)); err != nil {
			return "", err
		}
	}

	name := fmt.Sprintf("report_%s.pdf", now.Format("20060102_150405"))
	path := filepath.Join(r.outputDir, name)
	if err := pdf.WritePdf(path); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return path, nil
}

func loadCJKFont(pdf *gopdf.GoPdf, paths []string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := pdf.AddTTFFont(fontFamily, path); err != nil {
			continue
		}
		return nil
	}
	return errors.New("no usable CJK font found")
}

// page tracks layout state while flowing styled lines down the document.
type page struct {
	pdf *gopdf.GoPdf
}

func (p *page) writeMarkdownLine(line string) error {
	switch {
	case line == "":
		p.space(8.5)
		return nil
	case strings.HasPrefix(line, "# "):
		return p.write(strings.TrimSpace(line[2:]), styleHeading1)
	case strings.HasPrefix(line, "## "):
		return p.write(strings.TrimSpace(line[3:]), styleHeading2)
	case strings.HasPrefix(line, "### "):
		return p.write(strings.TrimSpace(line[4:]), styleHeading2)
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
		return p.write("• "+strings.TrimSpace(line[2:]), styleBody)
	case numberedLinePattern.MatchString(line):
		return p.write(line, styleBody)
	default:
		return p.write(stripEmphasis(line), styleBody)
	}
}

func (p *page) write(text string, style textStyle) error {
	if text == "" {
		return nil
	}
	p.space(style.before)
	if err := p.pdf.SetFont(fontFamily, "", style.size); err != nil {
		return fmt.Errorf("select font: %w", err)
	}
	p.pdf.SetTextColor(style.color[0], style.color[1], style.color[2])
	for _, line := range p.splitLines(text) {
		p.breakPageIfNeeded(style.leading)
		x := pageMargin
		if style.center {
			if w, err := p.pdf.MeasureTextWidth(line); err == nil && w < contentWidth {
				x = pageMargin + (contentWidth-w)/2
			}
		}
		p.pdf.SetX(x)
		if err := p.pdf.Cell(nil, line); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		p.pdf.Br(style.leading)
	}
	p.space(style.after)
	return nil
}

func (p *page) splitLines(text string) []string {
	lines, err := p.pdf.SplitText(text, contentWidth)
	if err != nil || len(lines) == 0 {
		return []string{text}
	}
	return lines
}

func (p *page) breakPageIfNeeded(lineHeight float64) {
	if p.pdf.GetY()+lineHeight <= pageHeight-pageMargin {
		return
	}
	p.pdf.AddPage()
	p.pdf.SetY(pageMargin)
}

func (p *page) space(h float64) {
	if h <= 0 {
		return
	}
	p.pdf.SetY(p.pdf.GetY() + h)
}

// stripEmphasis removes paired markdown bold and italic markers. The PDF
// flows everything in a single weight, so the markers would only show up
// as literal asterisks.
func stripEmphasis(line string) string {
	line = boldPattern.ReplaceAllString(line, "$1")
	line = italicPattern.ReplaceAllString(line, "$1")
	return line
}
