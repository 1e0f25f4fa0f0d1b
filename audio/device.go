package audio

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"murmur/log"
)

// SelectDevice presents an interactive picker over the available capture
// sources. The system default is always the first entry, so selecting it (or
// cancelling with q/Ctrl+C) returns nil and leaves device choice to the
// backend. Bluetooth inputs are tagged since most headsets drop to a
// low-quality codec while capturing.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil // system default is the only choice
	}

	labels := make([]string, 0, len(devices)+1)
	labels = append(labels, "system default")
	for _, d := range devices {
		label := d.Name
		if IsBluetooth(d.Name) {
			label += " \x1b[33m(bluetooth: lower quality)\x1b[0m"
		}
		labels = append(labels, label)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	render := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Capture device (enter selects, q keeps the default):\r\n")
		for i, label := range labels {
			marker := "   "
			if i == cursor {
				marker = " \x1b[36m>\x1b[0m "
			}
			fmt.Printf("%s%s\r\n", marker, label)
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch {
		case n == 1 && (buf[0] == '\r' || buf[0] == '\n'):
			fmt.Print("\r\n")
			if cursor == 0 {
				return nil, nil
			}
			return &devices[cursor-1], nil
		case n == 1 && (buf[0] == 'q' || buf[0] == 3): // q or Ctrl+C
			fmt.Print("\r\n")
			return nil, nil
		case n == 1 && buf[0] == 'j',
			n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
			if cursor < len(labels)-1 {
				cursor++
			}
		case n == 1 && buf[0] == 'k',
			n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
			if cursor > 0 {
				cursor--
			}
		}
		fmt.Printf("\x1b[%dA", len(labels)+1)
		render()
	}
}

// ResolveDevice maps a configured device name to a capture source: exact
// match first, then case-insensitive substring, since backends decorate names
// differently (PulseAudio source names vs. miniaudio descriptions). An
// unmatched name falls back to the system default (nil) with a warning, so a
// stale config entry never blocks recording.
func ResolveDevice(ctx Context, name string) *DeviceInfo {
	if name == "" {
		return nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		log.Warnf("device enumeration failed, using default: %v", err)
		return nil
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	lower := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), lower) {
			return &devices[i]
		}
	}
	log.Warnf("configured device %q not found, using default", name)
	return nil
}
