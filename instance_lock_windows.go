//go:build windows

package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// The mutex is per session, so two users on one host may each run a monitor.
const instanceMutexName = `Local\PBXMonitorInstance`

type instanceLock struct {
	mutex windows.Handle
}

func (l *instanceLock) Release() error {
	if l == nil || l.mutex == 0 {
		return nil
	}
	handle := l.mutex
	l.mutex = 0
	if err := windows.CloseHandle(handle); err != nil {
		return fmt.Errorf("close instance mutex: %w", err)
	}
	return nil
}

func acquireInstanceLock() (*instanceLock, bool, error) {
	name, err := windows.UTF16PtrFromString(instanceMutexName)
	if err != nil {
		return nil, false, fmt.Errorf("encode mutex name: %w", err)
	}
	handle, err := windows.CreateMutex(nil, false, name)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create instance mutex: %w", err)
	}
	return &instanceLock{mutex: handle}, false, nil
}
