package gstreamer

import (
	"strings"
	"testing"
)

func TestLaunchString(t *testing.T) {
	tests := []struct {
		name string
		cam  Camera
		want []string
	}{
		{
			name: "v4l2",
			cam:  Camera{Device: "/dev/video2", Width: 1280, Height: 720, FPS: 30},
			want: []string{"v4l2src device=/dev/video2", "format=RGBA,width=1280,height=720,framerate=30/1", "appsink name=sink"},
		},
		{
			name: "default device",
			cam:  Camera{},
			want: []string{"v4l2src device=/dev/video0", "video/x-raw,format=RGBA !"},
		},
		{
			name: "rtsp",
			cam:  Camera{URL: "rtsp://cam.local/stream", Width: 640, Height: 480, FPS: 15},
			want: []string{"rtspsrc location=rtsp://cam.local/stream", "decodebin", "width=640,height=480 !", "appsink name=sink"},
		},
		{
			name: "custom",
			cam:  Camera{Pipeline: "videotestsrc ! videoconvert ! video/x-raw,format=RGBA ! appsink name=sink", URL: "ignored"},
			want: []string{"videotestsrc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cam.LaunchString()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("launch %q missing %q", got, w)
				}
			}
		})
	}
}

func TestRTSPOmitsFramerate(t *testing.T) {
	got := Camera{URL: "rtsp://x", FPS: 30}.LaunchString()
	if strings.Contains(got, "framerate") {
		t.Fatalf("rtsp launch carries framerate: %q", got)
	}
}
