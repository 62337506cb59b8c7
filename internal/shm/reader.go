package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

static SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

static void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

static uint32_t get_write_index(SharedFrameBuffer* shm) {
    return __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
}

// 0 on success, negative errno otherwise (-ETIMEDOUT on timeout)
static int wait_new_frame(SharedFrameBuffer* shm, int timeout_ms) {
    if (shm == NULL) {
        return -EINVAL;
    }
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (long)(timeout_ms % 1000) * 1000000L;
    if (ts.tv_nsec >= 1000000000L) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000L;
    }
    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

static int read_frame(SharedFrameBuffer* shm, uint32_t index, Frame* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &shm->frames[index], sizeof(Frame));
    return 0;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/face-overlay/internal/logger"
)

// Frame formats written by the capture daemon
const (
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
	FormatH264 = 3

	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2
)

// ErrTimeout is returned by WaitNewFrame when no frame was signalled in time
var ErrTimeout = errors.New("shm: timeout waiting for frame")

// RawFrame is one ring slot copied out of shared memory
type RawFrame struct {
	Number    uint64
	Timestamp time.Time
	CameraID  int
	Width     int
	Height    int
	Format    int
	Data      []byte
}

// Reader maps the capture daemon's frame ring read-only
type Reader struct {
	shm     *C.SharedFrameBuffer
	name    string
	lastIdx uint32
	log     logger.Module
}

// Open maps the named segment, retrying once a second until ctx expires.
// The capture daemon may start after us.
func Open(ctx context.Context, name string, log logger.Module) (*Reader, error) {
	if name == "" {
		return nil, errors.New("shared memory name is required")
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	for attempt := 1; ; attempt++ {
		if p := C.open_shm(cName); p != nil {
			log.Info("Opened shared memory %s", name)
			return &Reader{shm: p, name: name, log: log}, nil
		}
		if attempt%5 == 1 {
			log.Info("Waiting for shared memory %s to appear (attempt %d)", name, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("open shared memory %s: %w", name, ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

// Close unmaps the segment
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

// WriteIndex returns the number of frames the producer has written
func (r *Reader) WriteIndex() uint32 {
	if r.shm == nil {
		return 0
	}
	return uint32(C.get_write_index(r.shm))
}

// WaitNewFrame blocks on the producer's semaphore
func (r *Reader) WaitNewFrame(timeout time.Duration) error {
	if r.shm == nil {
		return errors.New("shared memory not open")
	}
	res := int(C.wait_new_frame(r.shm, C.int(timeout.Milliseconds())))
	switch {
	case res == 0:
		return nil
	case -res == int(C.ETIMEDOUT):
		return ErrTimeout
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", -res)
	}
}

// ReadLatest copies the newest slot. ok is false when nothing new was written
// since the previous call.
func (r *Reader) ReadLatest() (*RawFrame, bool, error) {
	if r.shm == nil {
		return nil, false, errors.New("shared memory not open")
	}
	writeIndex := r.WriteIndex()
	if writeIndex == 0 || writeIndex == r.lastIdx {
		return nil, false, nil
	}
	r.lastIdx = writeIndex

	index := (writeIndex - 1) % RingBufferSize
	var cFrame C.Frame
	if C.read_frame(r.shm, C.uint32_t(index), &cFrame) != 0 {
		return nil, false, fmt.Errorf("failed to read frame at index %d", index)
	}

	size := int(cFrame.data_size)
	if size <= 0 || size > MaxFrameSize {
		return nil, false, fmt.Errorf("frame %d: bad data size %d", uint64(cFrame.frame_number), size)
	}
	data := make([]byte, size)
	copy(data, (*[MaxFrameSize]byte)(unsafe.Pointer(&cFrame.data[0]))[:size:size])

	return &RawFrame{
		Number:    uint64(cFrame.frame_number),
		Timestamp: time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec)),
		CameraID:  int(cFrame.camera_id),
		Width:     int(cFrame.width),
		Height:    int(cFrame.height),
		Format:    int(cFrame.format),
		Data:      data,
	}, true, nil
}
