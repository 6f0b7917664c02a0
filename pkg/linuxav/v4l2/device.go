//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"unsafe"
)

// Probe opens path read/write non-blocking, queries its capability set and
// reports whether the node is a video capture device. It retains no state
// and is safe to call from any goroutine at any time.
func Probe(path string) bool {
	logger := slog.With("component", "linuxav")

	fd, err := open(path)
	if err != nil {
		logger.Warn("failed to open video device", "path", path, "error", err)
		return false
	}
	defer closeFd(fd)

	cap := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		logger.Warn("device is not a V4L2 device", "path", path, "error", err)
		return false
	}

	if effectiveCaps(&cap)&capVideoCapture == 0 {
		logger.Warn("device does not support video capture", "path", path)
		return false
	}

	logger.Info("found V4L2 capture device",
		"path", path, "card", cstr(cap.card[:]), "driver", cstr(cap.driver[:]))
	return true
}

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := readVideoNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo

	for _, devicePath := range entries {
		fd, err := open(devicePath)
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to open video device",
				"path", devicePath, "error", err)
			continue
		}

		cap := v4l2Capability{}
		err = ioctl(fd, vidiocQuerycap, unsafe.Pointer(&cap))
		closeFd(fd)
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to query device capabilities",
				"path", devicePath, "error", err)
			continue
		}

		caps := effectiveCaps(&cap)
		if caps&capVideoCapture == 0 {
			continue
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: cstr(cap.card[:]),
			Driver:     cstr(cap.driver[:]),
			BusInfo:    cstr(cap.busInfo[:]),
			Caps:       caps,
		})
	}

	return devices, nil
}

// effectiveCaps returns device_caps when the driver reports per-node
// capabilities, otherwise the whole-device capability set.
func effectiveCaps(cap *v4l2Capability) uint32 {
	if cap.capabilities&capDeviceCaps != 0 {
		return cap.deviceCaps
	}
	return cap.capabilities
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
