package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/face-overlay/internal/logger"
)

// MJPEG reads a multipart/x-mixed-replace JPEG stream, the format served by
// most IP cameras and by this service's own /stream endpoint.
type MJPEG struct {
	URL    string
	Client *http.Client
	Log    logger.Module

	// reconnect backoff
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Open connects and starts decoding. A failed first connection is an
// AcquisitionError; later disconnects are retried until the track stops.
func (m MJPEG) Open(ctx context.Context) (Stream, error) {
	if m.URL == "" {
		return nil, &AcquisitionError{Backend: "mjpeg", Err: errors.New("url is required")}
	}
	if m.Client == nil {
		m.Client = &http.Client{}
	}
	if m.RetryDelay <= 0 {
		m.RetryDelay = time.Second
	}
	if m.MaxRetryDelay <= 0 {
		m.MaxRetryDelay = 30 * time.Second
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	body, boundary, err := m.connect(ctx, streamCtx)
	if err != nil {
		cancel()
		return nil, &AcquisitionError{Backend: "mjpeg", Err: err}
	}

	feed := NewFeed(m.URL, cancel)
	go m.run(streamCtx, feed, body, boundary)

	m.Log.Info("MJPEG stream connected: %s", m.URL)
	return feed, nil
}

// connect issues the GET. openCtx bounds the handshake, streamCtx the body.
func (m MJPEG) connect(openCtx, streamCtx context.Context) (io.ReadCloser, string, error) {
	reqCtx, abort := context.WithCancel(streamCtx)
	stop := context.AfterFunc(openCtx, abort)

	fail := func(err error) (io.ReadCloser, string, error) {
		stop()
		abort()
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.URL, nil)
	if err != nil {
		return fail(err)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return fail(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fail(fmt.Errorf("not a multipart stream: %q", resp.Header.Get("Content-Type")))
	}
	if !stop() && openCtx != streamCtx {
		resp.Body.Close()
		abort()
		return nil, "", openCtx.Err()
	}
	return resp.Body, params["boundary"], nil
}

func (m MJPEG) run(ctx context.Context, feed *Feed, body io.ReadCloser, boundary string) {
	retries := 0
	for {
		err := m.decode(feed, body, boundary)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.Log.Warn("MJPEG stream interrupted: %v", err)
		}

		for {
			retries++
			delay := min(m.RetryDelay*time.Duration(1<<min(retries-1, 10)), m.MaxRetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			body, boundary, err = m.connect(ctx, ctx)
			if err == nil {
				m.Log.Info("MJPEG stream reconnected after %d attempts", retries)
				retries = 0
				break
			}
			m.Log.Debug("MJPEG reconnect %d failed: %v", retries, err)
		}
	}
}

func (m MJPEG) decode(feed *Feed, body io.Reader, boundary string) error {
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		img, err := decodePart(part)
		part.Close()
		if err != nil {
			m.Log.Debug("Skipping undecodable part: %v", err)
			continue
		}
		feed.Publish(img)
	}
}

func decodePart(part *multipart.Part) (image.Image, error) {
	if ct := part.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "jpeg") {
		_, _ = io.Copy(io.Discard, part)
		return nil, fmt.Errorf("unsupported part type %q", ct)
	}
	return jpeg.Decode(part)
}
