// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package inotifywatch implements the watch-descriptor↔devnode registry
// behind the close-after-write synthesizer (engine.InotifySource, spec.md
// §4.7), plus the BLKRRPART reread and sysfs "change" write it drives.
package inotifywatch

import (
	"encoding/binary"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/errors"
)

// Watcher implements engine.InotifySource using a raw inotify fd — not
// fsnotify, which collapses every write-related event into one Write op
// and cannot distinguish IN_CLOSE_WRITE from an in-progress write.
type Watcher struct {
	log logger.Logger
	fd  int

	events chan engine.InotifyEvent
	done   chan struct{}

	mu     sync.Mutex
	byWD   map[int32]watch
	byPath map[string]int32
}

type watch struct {
	devnode string
	dev     engine.DeviceView
}

// New initializes inotify and starts its read loop.
func New(log logger.Logger) (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, errors.EngineInotifyInitFailed)
	}

	w := &Watcher{
		log:    log,
		fd:     fd,
		events: make(chan engine.InotifyEvent, 128),
		done:   make(chan struct{}),
		byWD:   make(map[int32]watch),
		byPath: make(map[string]int32),
	}
	go w.readLoop()
	return w, nil
}

func (w *Watcher) Events() <-chan engine.InotifyEvent { return w.events }

// Watch registers devnode for IN_CLOSE_WRITE, so a later close-after-write
// can be attributed back to dev.
func (w *Watcher) Watch(devnode string, dev engine.DeviceView) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if wd, ok := w.byPath[devnode]; ok {
		w.byWD[wd] = watch{devnode: devnode, dev: dev}
		return nil
	}

	wd, err := unix.InotifyAddWatch(w.fd, devnode, unix.IN_CLOSE_WRITE)
	if err != nil {
		return errors.Wrap(err, errors.EngineInotifyWatchFailed).WithMetadata("devnode", devnode)
	}
	w.byPath[devnode] = int32(wd)
	w.byWD[int32(wd)] = watch{devnode: devnode, dev: dev}
	return nil
}

func (w *Watcher) Close() error {
	close(w.done)
	return unix.Close(w.fd)
}

// readLoop parses raw inotify_event records per inotify(7)'s layout, the
// same fixed offsets (wd, mask, cookie, len at 0/4/8/12, name at 16) used
// by the retrieved standalone inotify reader this package is grounded on.
func (w *Watcher) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(w.fd, buf)
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			w.log.Warn("inotify read failed", "err", err)
			return
		}

		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			wd := int32(binary.NativeEndian.Uint32(buf[offset : offset+4]))
			mask := binary.NativeEndian.Uint32(buf[offset+4 : offset+8])
			nameLen := int(binary.NativeEndian.Uint32(buf[offset+12 : offset+16]))
			eventSize := unix.SizeofInotifyEvent + nameLen
			if offset+eventSize > n {
				break
			}
			offset += eventSize

			w.mu.Lock()
			wv, ok := w.byWD[wd]
			w.mu.Unlock()
			if !ok {
				continue
			}

			ev := engine.InotifyEvent{Dev: wv.dev}
			switch {
			case mask&unix.IN_IGNORED != 0:
				ev.Ignored = true
				w.mu.Lock()
				delete(w.byWD, wd)
				delete(w.byPath, wv.devnode)
				w.mu.Unlock()
			case mask&unix.IN_CLOSE_WRITE != 0:
				ev.CloseWrite = true
			default:
				continue
			}
			w.events <- ev
		}
	}
}

// BlockRereader implements engine.BlockRereader.
type BlockRereader struct{}

// Reread opens devnode O_RDONLY|O_NONBLOCK, takes a non-blocking exclusive
// flock, and issues ioctl(BLKRRPART) (spec.md §4.7 step 1, §12).
func (BlockRereader) Reread(devnode string) (bool, error) {
	fd, err := unix.Open(devnode, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false, errors.Wrap(err, errors.EngineBlockRereadFailed).WithMetadata("operation", "open")
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		// Already locked by someone else (e.g. a mounted partition) —
		// not an unexpected error, just a "reread didn't happen" result.
		return false, nil
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKRRPART, 0); errno != 0 {
		return false, nil
	}
	return true, nil
}

// PartitionSysPaths lists the sysfs paths of partition children of the
// whole disk at syspath, via the kernel's <syspath>/<name>/partition
// convention.
func (BlockRereader) PartitionSysPaths(syspath string) ([]string, error) {
	entries, err := os.ReadDir(syspath)
	if err != nil {
		return nil, errors.Wrap(err, errors.EngineBlockRereadFailed).WithMetadata("operation", "readdir")
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := syspath + "/" + e.Name()
		if _, err := os.Stat(candidate + "/partition"); err == nil {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// UeventWriter implements engine.UeventWriter.
type UeventWriter struct{}

// WriteChange writes the ASCII token "change\n" to a device's sysfs uevent
// file, the kernel's documented mechanism for daemon-synthesized uevents.
func (UeventWriter) WriteChange(syspath string) error {
	f, err := os.OpenFile(syspath+"/uevent", os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, errors.EngineSynthesizeWriteFailed).WithMetadata("syspath", syspath)
	}
	defer f.Close()

	if _, err := f.WriteString("change\n"); err != nil {
		return errors.Wrap(err, errors.EngineSynthesizeWriteFailed).WithMetadata("syspath", syspath)
	}
	return nil
}
