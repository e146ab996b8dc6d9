package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/browser"

	"devharvest/internal/download"
)

var (
	// ErrDownloadCanceled is returned when Chrome reports the download as canceled
	ErrDownloadCanceled = errors.New("browser: download canceled")

	errDownloadBusy = errors.New("browser: another download is in flight")
)

// Download is a completed browser download sitting in the staging directory
type Download struct {
	download.FileArtifact
	SuggestedName string
	URL           string
}

type downloadWaiter struct {
	guid string
	name string
	url  string
	once sync.Once
	done chan error
}

func (w *downloadWaiter) finish(err error) {
	w.once.Do(func() {
		w.done <- err
	})
}

func (s *Session) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		s.dlMu.Lock()
		if w := s.pending; w != nil && w.guid == "" {
			w.guid = e.GUID
			w.name = e.SuggestedFilename
			w.url = e.URL
		} else {
			s.orphanLocked(e.GUID)
		}
		s.dlMu.Unlock()

	case *browser.EventDownloadProgress:
		terminal := e.State == browser.DownloadProgressStateCompleted || e.State == browser.DownloadProgressStateCanceled
		s.dlMu.Lock()
		_, orphaned := s.orphans[e.GUID]
		if orphaned && terminal {
			delete(s.orphans, e.GUID)
		}
		w := s.pending
		match := w != nil && w.guid != "" && w.guid == e.GUID
		s.dlMu.Unlock()
		if orphaned {
			if terminal {
				s.discard(e.GUID)
			}
			return
		}
		if !match {
			return
		}
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			w.finish(nil)
		case browser.DownloadProgressStateCanceled:
			w.finish(ErrDownloadCanceled)
		}
	}
}

// release clears the pending waiter. A failed wait orphans its download.
func (s *Session) release(w *downloadWaiter, failed bool) {
	s.dlMu.Lock()
	s.pending = nil
	guid := w.guid
	if failed && guid != "" {
		s.orphanLocked(guid)
	}
	s.dlMu.Unlock()
	if failed && guid != "" {
		s.discard(guid)
	}
}

// orphanLocked marks a download nobody waits for. Its staged file is removed
// once Chrome settles it. dlMu must be held.
func (s *Session) orphanLocked(guid string) {
	if s.orphans == nil {
		s.orphans = make(map[string]struct{})
	}
	s.orphans[guid] = struct{}{}
}

func (s *Session) discard(guid string) {
	staged := download.FileArtifact{Path: filepath.Join(s.opts.DownloadDir, guid)}
	if err := staged.Discard(); err != nil {
		s.logger.Warn("staged_download_not_removed", slog.String("guid", guid), slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("staged_download_discarded", slog.String("guid", guid))
}

// TriggerDownload runs trigger and waits for the download it starts. The
// wait is bounded by ctx only, so callers set the download timeout there.
// A download abandoned on error is removed from the staging directory, now
// or when Chrome finishes writing it.
func (s *Session) TriggerDownload(ctx context.Context, trigger func(ctx context.Context) error) (dl *Download, err error) {
	if _, err := s.browserContext(ctx); err != nil {
		return nil, err
	}

	w := &downloadWaiter{done: make(chan error, 1)}
	s.dlMu.Lock()
	if s.pending != nil {
		s.dlMu.Unlock()
		return nil, errDownloadBusy
	}
	s.pending = w
	s.dlMu.Unlock()

	defer func() { s.release(w, err != nil) }()

	if err := trigger(ctx); err != nil {
		return nil, fmt.Errorf("download trigger failed: %w", err)
	}

	select {
	case err := <-w.done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for download: %w", ctx.Err())
	}

	s.dlMu.Lock()
	guid, name, url := w.guid, w.name, w.url
	s.dlMu.Unlock()

	return &Download{
		FileArtifact:  download.FileArtifact{Path: filepath.Join(s.opts.DownloadDir, guid)},
		SuggestedName: name,
		URL:           url,
	}, nil
}
