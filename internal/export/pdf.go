package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Page geometry in inches. Canvases wider or taller than letter size grow
// the page instead of being rescaled, so the marker overlay keeps its pixel
// positions; CSS pixels map to paper at 96dpi.
const (
	pageMargin  = 0.75
	minPaperW   = 8.5
	minPaperH   = 11.0
	cssPixelDPI = 96.0
)

var browserNames = []string{"chromium-browser", "chromium", "google-chrome"}

func findBrowser() (string, error) {
	for _, name := range browserNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium binary on PATH", ErrPDFDependencyMissing)
}

// paperSize derives the PDF page from the design canvas, with letter size as
// the floor.
func paperSize(canvasWidth, canvasHeight int) (w, h float64) {
	w = float64(canvasWidth)/cssPixelDPI + 2*pageMargin
	h = float64(canvasHeight)/cssPixelDPI + 2*pageMargin
	if w < minPaperW {
		w = minPaperW
	}
	if h < minPaperH {
		h = minPaperH
	}
	return w, h
}

// renderPDF prints the summary HTML through headless Chrome.
func renderPDF(ctx context.Context, html, filename string, canvasWidth, canvasHeight int) (*Result, error) {
	browser, err := findBrowser()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browser),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	paperW, paperH := paperSize(canvasWidth, canvasHeight)

	var pdfData []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL(html)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			pdfData, _, printErr = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paperW).
				WithPaperHeight(paperH).
				WithMarginTop(pageMargin).
				WithMarginBottom(pageMargin).
				WithMarginLeft(pageMargin).
				WithMarginRight(pageMargin).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: sanitizeFilename(filename) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// dataURL wraps rendered HTML in a text/html data URL. url.QueryEscape is
// unsuitable here: it encodes spaces as "+", which a data URL reads
// literally.
func dataURL(html string) string {
	var b strings.Builder
	b.Grow(len(html) * 2)
	b.WriteString("data:text/html;charset=utf-8,")
	for i := 0; i < len(html); i++ {
		c := html[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// sanitizeFilename reduces a title to a safe download filename.
func sanitizeFilename(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	if len(clean) > 50 {
		clean = clean[:50]
	}
	if clean == "" {
		return "design"
	}
	return clean
}
