//go:build !windows

package ts

import (
	"context"
	"os"
)

// nativeClient is the placeholder client for platforms without a Terminal
// Services API. Every operation fails with ErrPlatformUnsupported so the
// monitor degrades to reachability-only results.
type nativeClient struct{}

// NewNative returns the Terminal Services client for this platform.
func NewNative() Client {
	return &nativeClient{}
}

func (c *nativeClient) Open(ctx context.Context, host string) (Handle, error) {
	return LocalServer, ErrPlatformUnsupported
}

func (c *nativeClient) Close(h Handle) {}

func (c *nativeClient) EnumerateEx(h Handle) ([]Session, error) {
	return nil, ErrPlatformUnsupported
}

func (c *nativeClient) Enumerate(h Handle) ([]Session, error) {
	return nil, ErrPlatformUnsupported
}

func (c *nativeClient) QueryString(h Handle, sessionID uint32, field Field) (string, error) {
	return "", ErrPlatformUnsupported
}

func (c *nativeClient) CurrentUser() string {
	return os.Getenv("USER")
}
