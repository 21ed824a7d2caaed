package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const DefaultRenderTimeout = 30 * time.Second

const styleCSS = `body{font-family:-apple-system,"Segoe UI",Helvetica,Arial,sans-serif;color:#1c1917;font-size:13px;line-height:1.5;}
h1{font-size:1.6rem;margin:0 0 0.4rem;} h2{font-size:1.25rem;margin-top:1.4rem;border-bottom:1px solid #d6d3d1;}
h3{font-size:1.05rem;margin-top:1rem;} h2[data-stage-heading='true'],h3[data-stage-heading='true']{color:#1e3a8a;}
table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.8rem;margin:0.5rem 0;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#f1f5f9;font-weight:700;}
.report-meta{color:#44403c;font-size:0.85rem;margin-bottom:0.8rem;}
h2[data-page-break-before="true"]{break-before:page;page-break-before:always;}
@media print{@page{size:auto;margin:12mm;}}`

var (
	reHowItWorks  = regexp.MustCompile(`(?i)<h2([^>]*)>\s*` + HowItWorksHeading + `\s*</h2>`)
	reStageHeader = regexp.MustCompile(`(?i)<h3([^>]*)>\s*(Stage\s+[0-9]+:[^<]*)\s*</h3>`)
)

// ChromiumRenderer prints report markdown to PDF with headless Chromium.
type ChromiumRenderer struct {
	chromePath string
	timeout    time.Duration
}

// NewChromiumRenderer uses chromePath when set, else CHROME_PATH, else the
// first known browser install found.
func NewChromiumRenderer(chromePath string) *ChromiumRenderer {
	if chromePath == "" {
		chromePath = strings.TrimSpace(os.Getenv("CHROME_PATH"))
	}
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	return &ChromiumRenderer{chromePath: chromePath, timeout: DefaultRenderTimeout}
}

func (r *ChromiumRenderer) Render(ctx context.Context, title, markdown string) ([]byte, error) {
	doc, err := HTML(title, markdown)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// HTML converts report markdown into a standalone printable page.
func HTML(title, markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<div class='report-html'>" + printLayout(content.String()) + "</div>" +
		"</body></html>", nil
}

// printLayout starts the methodology section on a new page and marks stage
// headings.
func printLayout(doc string) string {
	out := reHowItWorks.ReplaceAllString(doc, `<h2$1 data-page-break-before="true">`+HowItWorksHeading+`</h2>`)
	return reStageHeader.ReplaceAllString(out, `<h3$1 data-stage-heading="true">$2</h3>`)
}

func detectChromePath() string {
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
