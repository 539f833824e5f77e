package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRedirects bounds the Location chain.
const DefaultMaxRedirects = 10

// Outcome describes a finished download.
type Outcome struct {
	Bytes    int64 // wire bytes received for the final 200 response
	Requests int   // requests issued, redirect hops included
}

// Downloader streams release archives to disk.
type Downloader struct {
	httpClient   *http.Client
	userAgent    string
	maxRedirects int
	progress     io.Writer
	logger       *logrus.Entry
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets the client. Its own redirect following should be off,
// otherwise hops are invisible to the downloader.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.httpClient = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithMaxRedirects bounds the redirect chain.
func WithMaxRedirects(n int) Option {
	return func(d *Downloader) { d.maxRedirects = n }
}

// WithProgress renders a byte progress bar on w.
func WithProgress(w io.Writer) Option {
	return func(d *Downloader) { d.progress = w }
}

// WithLogger sets the log entry.
func WithLogger(l *logrus.Entry) Option {
	return func(d *Downloader) { d.logger = l }
}

func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:    "relfetch (dev)",
		maxRedirects: DefaultMaxRedirects,
		logger:       logrus.WithField("component", "release-downloader"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Download fetches rawURL into destPath, following redirects hop by hop.
// It returns only after the file has been synced and closed.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string) (*Outcome, error) {
	if rawURL == "" {
		return nil, &common.DownloadError{Err: errors.New("archive URL is required")}
	}

	d.logger.WithFields(logrus.Fields{
		"url":  rawURL,
		"dest": destPath,
	}).Info("Starting archive download")

	current := rawURL
	outcome := &Outcome{}

	for {
		resp, err := d.get(ctx, current)
		outcome.Requests++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.WithError(err).Error("Failed to download file")
			return nil, &common.DownloadError{URL: current, Err: err}
		}

		if isRedirect(resp.StatusCode) {
			next, err := d.nextLocation(resp, current)
			drain(resp)
			if err != nil {
				return nil, err
			}
			if outcome.Requests > d.maxRedirects {
				return nil, &common.DownloadError{
					URL:        current,
					StatusCode: resp.StatusCode,
					Err:        fmt.Errorf("stopped after %d redirects", d.maxRedirects),
				}
			}
			d.logger.WithFields(logrus.Fields{
				"status":   resp.StatusCode,
				"location": next,
			}).Debug("Following redirect")
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return nil, &common.DownloadError{URL: current, StatusCode: resp.StatusCode}
		}

		written, err := d.save(ctx, resp, destPath)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &common.DownloadError{URL: current, Err: err}
		}
		outcome.Bytes = written

		d.logger.WithFields(logrus.Fields{
			"bytes":    outcome.Bytes,
			"requests": outcome.Requests,
		}).Info("Archive download completed")
		return outcome, nil
	}
}

func (d *Downloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	return d.httpClient.Do(req)
}

func (d *Downloader) nextLocation(resp *http.Response, current string) (string, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", &common.DownloadError{
			URL:        current,
			StatusCode: resp.StatusCode,
			Err:        errors.New("redirect without Location header"),
		}
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", &common.DownloadError{URL: current, Err: err}
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", &common.DownloadError{URL: current, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad Location %q: %w", loc, err)}
	}
	return base.ResolveReference(ref).String(), nil
}

// save streams the body into destPath. The byte count comes from the body
// side of the copy, not from the file.
func (d *Downloader) save(ctx context.Context, resp *http.Response, destPath string) (written int64, err error) {
	defer resp.Body.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if out == nil {
			return
		}
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close archive file: %w", closeErr)
		}
	}()

	body := common.NewCountingReader(resp.Body)

	var dst io.Writer = out
	if d.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer func() {
			if finishErr := bar.Finish(); finishErr != nil {
				d.logger.WithError(finishErr).Debug("Failed to finish progress bar")
			}
		}()
		dst = io.MultiWriter(out, bar)
	}

	if _, err := common.CopyWithContext(ctx, dst, body); err != nil {
		return body.Count(), fmt.Errorf("failed to save file: %w", err)
	}

	if err := out.Sync(); err != nil {
		return body.Count(), fmt.Errorf("failed to sync archive file: %w", err)
	}
	closeErr := out.Close()
	out = nil
	if closeErr != nil {
		return body.Count(), fmt.Errorf("failed to close archive file: %w", closeErr)
	}

	return body.Count(), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
