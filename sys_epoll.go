package zsock

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// EpollCtl implements epoll_ctl. The operator pointer travels in event.data.
func EpollCtl(epfd int, op int, fd int, event *epollevent) (err error) {
	_, _, e := unix.RawSyscall6(unix.SYS_EPOLL_CTL, uintptr(epfd), uintptr(op), uintptr(fd), uintptr(unsafe.Pointer(event)), 0, 0)
	if e != 0 {
		return e
	}
	return nil
}

// EpollWait implements epoll_wait on top of epoll_pwait, which every linux
// architecture provides.
func EpollWait(epfd int, events []epollevent, msec int) (n int, err error) {
	var r0 uintptr
	var e unix.Errno
	var p0 = unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, e = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, e = unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if e != 0 {
		return int(r0), e
	}
	return int(r0), nil
}
