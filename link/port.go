package link

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialOpener opens a USB CDC / serial device at 8N1 with DTR asserted.
// When device is empty the first USB port matching vid:pid is used.
func SerialOpener(device string, baud int, vid, pid string) Opener {
	return func() (io.ReadWriteCloser, error) {
		name := device
		if name == "" {
			found, err := FindUSBPort(vid, pid)
			if err != nil {
				return nil, err
			}
			name = found
		}

		port, err := serial.Open(name, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		if err := port.SetDTR(true); err != nil {
			port.Close()
			return nil, fmt.Errorf("assert DTR on %s: %w", name, err)
		}
		return port, nil
	}
}

// FindUSBPort returns the device name of the first USB serial port whose
// vendor and product ids match (case-insensitive hex).
func FindUSBPort(vid, pid string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no USB serial device %s:%s found", vid, pid)
}

// TCPOpener dials a raw TCP serial bridge such as ser2net.
func TCPOpener(addr string, timeout time.Duration) Opener {
	return func() (io.ReadWriteCloser, error) {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}
}

// ListPorts returns every serial port the OS reports.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}
