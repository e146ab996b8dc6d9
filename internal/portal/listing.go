package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"devharvest/internal/download"
	"devharvest/internal/harvest"
	"devharvest/pkg/contracts/domain"
)

var _ harvest.Listing = (*Client)(nil)

// DocumentURL returns the document library address for recordID
func (c *Client) DocumentURL(recordID string) string {
	return fmt.Sprintf(c.opts.DocumentURL, url.QueryEscape(recordID))
}

// OpenListing loads the document library of recordID and widens the page
// size. A page size that cannot be changed is logged and ignored.
func (c *Client) OpenListing(ctx context.Context, recordID string) error {
	logger := c.logger.With(slog.String("record_id", recordID))
	target := c.DocumentURL(recordID)

	navCtx, cancel := withTimeout(ctx, c.opts.LoadTimeout)
	err := c.page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open document library: %w", err)
	}

	readyCtx, cancel := withTimeout(ctx, c.opts.NavigationTimeout)
	err = c.page.WaitReady(readyCtx, "body")
	cancel()
	if err != nil {
		return fmt.Errorf("document library did not load for %s: %w", recordID, err)
	}
	if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}

	if c.opts.PageSize == "" || c.opts.PageSizeSelector == "" {
		return nil
	}
	if err := c.page.SelectOption(ctx, c.opts.PageSizeSelector, c.opts.PageSize); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WarnContext(ctx, "page_size_unchanged", slog.String("error", err.Error()))
		return nil
	}
	if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}
	logger.DebugContext(ctx, "page_size_set", slog.String("size", c.opts.PageSize))
	return nil
}

// Rows returns the rows of every table on the current page
func (c *Client) Rows(ctx context.Context) ([]harvest.Row, error) {
	readCtx, cancel := withTimeout(ctx, c.opts.NavigationTimeout)
	defer cancel()

	html, err := c.page.OuterHTML(readCtx, "body")
	if err != nil {
		return nil, fmt.Errorf("failed to read document listing: %w", err)
	}
	return ParseRows(html)
}

// Download calls the page's fileDownload function for target and waits for
// the browser download.
func (c *Client) Download(ctx context.Context, target domain.DownloadTarget) (download.Artifact, error) {
	expr, err := downloadExpression(target)
	if err != nil {
		return nil, err
	}

	dlCtx, cancel := withTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	dl, err := c.page.TriggerDownload(dlCtx, func(ctx context.Context) error {
		var ok bool
		return c.page.Evaluate(ctx, expr, &ok)
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

func downloadExpression(t domain.DownloadTarget) (string, error) {
	args, err := json.Marshal([]string{t.FileID, t.FileName, t.FileType})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function(a) { fileDownload(a[0], a[1], a[2]); return true; })(%s)`, args), nil
}

// ParseRows extracts the text and download trigger of each table row.
// Cell texts are whitespace-normalised and joined with single spaces.
func ParseRows(html string) ([]harvest.Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document listing: %w", err)
	}

	var rows []harvest.Row
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			if text := normalizeSpace(cell.Text()); text != "" {
				cells = append(cells, text)
			}
		})
		text := strings.Join(cells, " ")
		if text == "" {
			text = normalizeSpace(tr.Text())
		}

		onclick, _ := tr.Find("a[onclick*='fileDownload']").First().Attr("onclick")
		rows = append(rows, harvest.Row{Text: text, Onclick: onclick})
	})
	return rows, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
