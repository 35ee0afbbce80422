package cmdlogbuf

import (
	"golang.org/x/sys/unix"
)

// Thin fd-level wrappers around the raw syscalls. Every call retries EINTR;
// the log format has no framing, so a short write that cannot be completed is
// unrecoverable for the caller.

// diskWrite writes all of buf to fd, retrying on EINTR. It returns the number
// of bytes written; anything less than len(buf) comes with the error that
// stopped the write (nil if the kernel returned 0).
func diskWrite(fd int, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
		written += n
	}
	return written, nil
}

// diskRead reads up to len(buf) bytes from fd, retrying on EINTR and
// continuing through partial reads until buf is full or EOF.
func diskRead(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func diskOpen(path string, flags int, mode uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags, mode)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

func diskFsync(fd int) error {
	for {
		err := unix.Fsync(fd)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func diskClose(fd int) error {
	for {
		err := unix.Close(fd)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func diskSeek(fd int, offset int64, whence int) (int64, error) {
	for {
		off, err := unix.Seek(fd, offset, whence)
		if err == unix.EINTR {
			continue
		}
		return off, err
	}
}

func diskFileSize(fd int) (int64, error) {
	var st unix.Stat_t
	for {
		err := unix.Fstat(fd, &st)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return st.Size, nil
	}
}
