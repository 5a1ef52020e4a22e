//go:build !linux && !windows
// +build !linux,!windows

package sockutil

import "github.com/momentics/hioload-iocore/api"

func Listen(string, int, int) (api.Handle, error) { return api.InvalidHandle, api.ErrNotSupported }
func LocalPort(api.Handle) (int, error)           { return 0, api.ErrNotSupported }
func Dial(string, int) (api.Handle, error)        { return api.InvalidHandle, api.ErrNotSupported }
func Accept(api.Handle) (api.Handle, error)       { return api.InvalidHandle, api.ErrNotSupported }
func Read(api.Handle, []byte) (int, error)        { return 0, api.ErrNotSupported }
func Write(api.Handle, []byte) (int, error)       { return 0, api.ErrNotSupported }
func Close(api.Handle) error                      { return api.ErrNotSupported }
func Abort(api.Handle) error                      { return api.ErrNotSupported }
func WouldBlock(error) bool                       { return false }
