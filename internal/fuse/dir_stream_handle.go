package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// dirStreamHandle adapts a DirStream to a FileHandle for OpendirHandle.
// The stream is created on the first read so a listing reflects the devices
// registered at that moment.
type dirStreamHandle struct {
	creator func(context.Context) (fs.DirStream, syscall.Errno)
	ds      fs.DirStream
	pos     uint64
}

func (d *dirStreamHandle) ensureStream(ctx context.Context) syscall.Errno {
	if d.ds != nil {
		return 0
	}
	var errno syscall.Errno
	d.ds, errno = d.creator(ctx)
	d.pos = 0
	return errno
}

func (d *dirStreamHandle) Releasedir(ctx context.Context, releaseFlags uint32) {
	if d.ds != nil {
		d.ds.Close()
		d.ds = nil
	}
}

func (d *dirStreamHandle) Readdirent(ctx context.Context) (*fuse.DirEntry, syscall.Errno) {
	if errno := d.ensureStream(ctx); errno != 0 {
		return nil, errno
	}

	if !d.ds.HasNext() {
		return nil, 0
	}

	e, errno := d.ds.Next()
	if errno != 0 {
		return nil, errno
	}
	d.pos++
	return &e, 0
}

// Seekdir repositions the stream. Streams without native seeking are recreated
// and advanced to off.
func (d *dirStreamHandle) Seekdir(ctx context.Context, off uint64) syscall.Errno {
	if errno := d.ensureStream(ctx); errno != 0 {
		return errno
	}

	if sd, ok := d.ds.(fs.FileSeekdirer); ok {
		errno := sd.Seekdir(ctx, off)
		if errno == 0 {
			d.pos = off
		}
		return errno
	}

	if off < d.pos {
		d.ds.Close()
		d.ds = nil
		if errno := d.ensureStream(ctx); errno != 0 {
			return errno
		}
	}
	for d.pos < off && d.ds.HasNext() {
		if _, errno := d.ds.Next(); errno != 0 {
			return errno
		}
		d.pos++
	}
	return 0
}
