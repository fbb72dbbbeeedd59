//go:build windows

package ts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	wtsapi32 = windows.NewLazySystemDLL("wtsapi32.dll")

	procWTSOpenServerW             = wtsapi32.NewProc("WTSOpenServerW")
	procWTSCloseServer             = wtsapi32.NewProc("WTSCloseServer")
	procWTSEnumerateSessionsW      = wtsapi32.NewProc("WTSEnumerateSessionsW")
	procWTSEnumerateSessionsExW    = wtsapi32.NewProc("WTSEnumerateSessionsExW")
	procWTSQuerySessionInformation = wtsapi32.NewProc("WTSQuerySessionInformationW")
	procWTSFreeMemory              = wtsapi32.NewProc("WTSFreeMemory")
	procWTSFreeMemoryExW           = wtsapi32.NewProc("WTSFreeMemoryExW")
)

// wtsSessionInfo mirrors WTS_SESSION_INFOW.
type wtsSessionInfo struct {
	sessionID      uint32
	winStationName *uint16
	state          uint32
}

// wtsSessionInfo1 mirrors WTS_SESSION_INFO_1W, the extended record.
type wtsSessionInfo1 struct {
	execEnvID   uint32
	state       uint32
	sessionID   uint32
	sessionName *uint16
	hostName    *uint16
	userName    *uint16
	domainName  *uint16
	farmName    *uint16
}

// WTS_TYPE_CLASS value for WTSFreeMemoryExW.
const wtsTypeSessionInfoLevel1 = 2

// WTS_INFO_CLASS values for WTSQuerySessionInformationW.
const (
	wtsUserName       = 5
	wtsWinStationName = 6
	wtsDomainName     = 7
)

// RPC-class error codes that indicate the session service cannot be reached
// right now, as opposed to a malformed request or denied access.
const (
	rpcServerUnavailable = 1722
	rpcServerTooBusy     = 1723
	rpcCallFailed        = 1726
	wsaeconnrefused      = 10061
)

// nativeClient is the wtsapi32-backed Client.
type nativeClient struct{}

// NewNative returns the Terminal Services client for this platform.
func NewNative() Client {
	return &nativeClient{}
}

func (c *nativeClient) Open(ctx context.Context, host string) (Handle, error) {
	if host == "" {
		return LocalServer, nil
	}

	namePtr, err := windows.UTF16PtrFromString(host)
	if err != nil {
		return LocalServer, fmt.Errorf("ts: invalid host name %q: %w", host, err)
	}

	// WTSOpenServerW itself cannot be cancelled; run it on a goroutine and
	// abandon it if the caller's deadline expires. An abandoned open closes
	// its handle once the call eventually returns.
	type openResult struct{ h Handle }
	done := make(chan openResult, 1)

	go func() {
		r, _, _ := procWTSOpenServerW.Call(uintptr(unsafe.Pointer(namePtr)))
		done <- openResult{h: Handle(r)}
	}()

	select {
	case res := <-done:
		if res.h == 0 {
			return LocalServer, ErrUnavailable
		}
		return res.h, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.h != 0 {
				c.Close(res.h)
			}
		}()
		return LocalServer, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

func (c *nativeClient) Close(h Handle) {
	if h == LocalServer {
		return
	}
	_, _, _ = procWTSCloseServer.Call(uintptr(h))
}

func (c *nativeClient) EnumerateEx(h Handle) ([]Session, error) {
	var (
		level uint32 = 1
		buf   uintptr
		count uint32
	)

	r, _, errno := procWTSEnumerateSessionsExW.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(&level)),
		0, // filter, reserved
		uintptr(unsafe.Pointer(&buf)),
		uintptr(unsafe.Pointer(&count)),
	)
	if r == 0 {
		return nil, classify("WTSEnumerateSessionsEx", errno)
	}
	defer procWTSFreeMemoryExW.Call(wtsTypeSessionInfoLevel1, buf, uintptr(count))

	sessions := make([]Session, 0, count)
	records := unsafe.Slice((*wtsSessionInfo1)(unsafe.Pointer(buf)), count)
	for i := range records {
		sessions = append(sessions, Session{
			ID:     records[i].sessionID,
			User:   windows.UTF16PtrToString(records[i].userName),
			Domain: windows.UTF16PtrToString(records[i].domainName),
			Label:  windows.UTF16PtrToString(records[i].sessionName),
			State:  State(records[i].state),
		})
	}
	return sessions, nil
}

func (c *nativeClient) Enumerate(h Handle) ([]Session, error) {
	var (
		buf   uintptr
		count uint32
	)

	r, _, errno := procWTSEnumerateSessionsW.Call(
		uintptr(h),
		0, // reserved
		1, // version, must be 1
		uintptr(unsafe.Pointer(&buf)),
		uintptr(unsafe.Pointer(&count)),
	)
	if r == 0 {
		return nil, classify("WTSEnumerateSessions", errno)
	}
	defer procWTSFreeMemory.Call(buf)

	sessions := make([]Session, 0, count)
	records := unsafe.Slice((*wtsSessionInfo)(unsafe.Pointer(buf)), count)
	for i := range records {
		sessions = append(sessions, Session{
			ID:    records[i].sessionID,
			Label: windows.UTF16PtrToString(records[i].winStationName),
			State: State(records[i].state),
		})
	}
	return sessions, nil
}

func (c *nativeClient) QueryString(h Handle, sessionID uint32, field Field) (string, error) {
	var infoClass uintptr
	switch field {
	case FieldUserName:
		infoClass = wtsUserName
	case FieldDomainName:
		infoClass = wtsDomainName
	case FieldStationName:
		infoClass = wtsWinStationName
	default:
		return "", fmt.Errorf("ts: unknown query field %d", field)
	}

	var (
		buf  uintptr
		size uint32
	)
	r, _, errno := procWTSQuerySessionInformation.Call(
		uintptr(h),
		uintptr(sessionID),
		infoClass,
		uintptr(unsafe.Pointer(&buf)),
		uintptr(unsafe.Pointer(&size)),
	)
	if r == 0 {
		return "", classify("WTSQuerySessionInformation", errno)
	}
	defer procWTSFreeMemory.Call(buf)

	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(buf))), nil
}

func (c *nativeClient) CurrentUser() string {
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return ""
}

// classify maps a wtsapi32 errno to the package error taxonomy.
func classify(call string, errno error) error {
	var e windows.Errno
	if errors.As(errno, &e) {
		switch uintptr(e) {
		case uintptr(windows.ERROR_CALL_NOT_IMPLEMENTED), uintptr(windows.ERROR_INVALID_FUNCTION):
			return ErrUnsupported
		case rpcServerUnavailable, rpcServerTooBusy, rpcCallFailed, wsaeconnrefused:
			return Transient(fmt.Errorf("ts: %s: %w", call, errno))
		}
	}
	return fmt.Errorf("ts: %s: %w", call, errno)
}
