// Package gstreamer opens V4L2 webcams, RTSP cameras or any custom GStreamer
// pipeline that ends in "appsink name=sink" and delivers RGBA frames.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/logger"
)

const sinkName = "sink"

const appsinkTail = "appsink name=" + sinkName + " sync=false max-buffers=1 drop=true"

// Camera is a camera.Opener backed by a GStreamer pipeline
type Camera struct {
	Device   string // v4l2 device, used when URL and Pipeline are empty
	URL      string // rtsp:// source
	Pipeline string // complete launch string, overrides Device and URL
	Width    int
	Height   int
	FPS      int
	Log      logger.Module
}

// LaunchString returns the pipeline description that Open will parse
func (c Camera) LaunchString() string {
	if c.Pipeline != "" {
		return c.Pipeline
	}
	caps := "video/x-raw,format=RGBA"
	if c.Width > 0 && c.Height > 0 {
		caps += fmt.Sprintf(",width=%d,height=%d", c.Width, c.Height)
	}
	if c.URL != "" {
		return fmt.Sprintf("rtspsrc location=%s protocols=tcp latency=200 ! decodebin ! videoconvert ! videoscale ! %s ! %s",
			c.URL, caps, appsinkTail)
	}
	if c.FPS > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", c.FPS)
	}
	device := c.Device
	if device == "" {
		device = "/dev/video0"
	}
	return fmt.Sprintf("v4l2src device=%s ! videoconvert ! videoscale ! videorate ! %s ! %s", device, caps, appsinkTail)
}

// Open builds the pipeline and sets it playing
func (c Camera) Open(ctx context.Context) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &camera.AcquisitionError{Backend: "gstreamer", Err: err}
	}
	gst.Init(nil)

	launch := c.LaunchString()
	if !strings.Contains(launch, "name="+sinkName) {
		return nil, &camera.AcquisitionError{Backend: "gstreamer", Err: fmt.Errorf("pipeline must end in appsink name=%s", sinkName)}
	}

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, &camera.AcquisitionError{Backend: "gstreamer", Err: fmt.Errorf("parse pipeline: %w", err)}
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, &camera.AcquisitionError{Backend: "gstreamer", Err: fmt.Errorf("find appsink: %w", err)}
	}
	sink := app.SinkFromElement(elem)

	stopped := make(chan struct{})
	feed := camera.NewFeed(launch, func() {
		close(stopped)
		pipeline.SetState(gst.StateNull)
	})

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return onNewSample(s, feed)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, &camera.AcquisitionError{Backend: "gstreamer", Err: fmt.Errorf("set playing: %w", err)}
	}

	go c.watchBus(pipeline, feed, stopped)

	c.Log.Info("GStreamer pipeline playing: %s", launch)
	return feed, nil
}

func (c Camera) watchBus(pipeline *gst.Pipeline, feed *camera.Feed, stopped <-chan struct{}) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-stopped:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			c.Log.Info("End of stream")
			feed.Fail(errors.New("end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			c.Log.Error("Pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
			feed.Fail(fmt.Errorf("pipeline error: %w", gerr))
			return
		}
	}
}

func onNewSample(sink *app.Sink, feed *camera.Feed) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	width, height, ok := sampleSize(sample)
	if !ok {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) < width*height*4 {
		return gst.FlowOK
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, data)
	feed.Publish(img)
	return gst.FlowOK
}

func sampleSize(sample *gst.Sample) (int, int, bool) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, false
	}
	st := caps.GetStructureAt(0)
	w, err := st.GetValue("width")
	if err != nil {
		return 0, 0, false
	}
	h, err := st.GetValue("height")
	if err != nil {
		return 0, 0, false
	}
	width, wok := w.(int)
	height, hok := h.(int)
	return width, height, wok && hok && width > 0 && height > 0
}
