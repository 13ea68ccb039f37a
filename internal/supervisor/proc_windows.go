//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
	"unsafe"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
	procGetProcessTimes  = kernel32.NewProc("GetProcessTimes")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400

	createNewProcessGroup = 0x00000200
)

// configureSysProcAttr creates a new process group so the worker can be
// terminated as a unit.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// terminateGroup has no graceful signal on Windows; it terminates the
// worker process directly.
func terminateGroup(pid int) error {
	return terminateByPID(pid)
}

func killGroup(pid int) error {
	return terminateByPID(pid)
}

func terminateByPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// The process is most likely already gone.
		return nil
	}
	defer func() { _ = closeHandle(handle) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

// pidAlive reports whether the process can still be opened. The recorded
// start timestamp rejects a recycled PID.
func pidAlive(pid int, startUnix int64) bool {
	if pid <= 0 {
		return false
	}
	handle, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return false
	}
	_ = closeHandle(handle)
	if startUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != startUnix {
			return false
		}
	}
	return true
}

// procStartUnix returns the process creation time as Unix seconds.
// Returns 0 on error.
func procStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return 0
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var creation, exit, kernel, user syscall.Filetime
	ret, _, _ := procGetProcessTimes.Call(uintptr(h),
		uintptr(unsafe.Pointer(&creation)), uintptr(unsafe.Pointer(&exit)),
		uintptr(unsafe.Pointer(&kernel)), uintptr(unsafe.Pointer(&user)))
	if ret == 0 {
		return 0
	}
	// FILETIME is in 100-ns intervals since Jan 1, 1601 (UTC)
	const ticksPerSecond = 10000000
	const epochDiff = 11644473600
	ft := (uint64(creation.HighDateTime) << 32) | uint64(creation.LowDateTime)
	return int64(ft/ticksPerSecond) - epochDiff
}

func openProcess(access uint32, processID uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(0), uintptr(processID))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}
