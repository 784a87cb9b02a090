package serial

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/serialbatch/internal/domain"
)

// Parity is the parity mode of the line.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// String returns the conventional single-letter name (N, O, E).
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "N"
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	default:
		return "?"
	}
}

// ParseParity converts a config string ("none", "odd", "even", or the
// single-letter forms) to a Parity.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "none", "n", "N", "":
		return ParityNone, nil
	case "odd", "o", "O":
		return ParityOdd, nil
	case "even", "e", "E":
		return ParityEven, nil
	default:
		return ParityNone, fmt.Errorf("%w: unknown parity %q", domain.ErrInvalidConfig, s)
	}
}

// Settings holds the line parameters for opening a serial device. The
// coalescing core passes these through opaquely; only this package
// interprets them.
type Settings struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits int

	// Modem-control lines. When set, the line is asserted after open;
	// when unset, the driver default is left alone.
	RTS bool
	DTR bool
}

// DefaultSettings returns 115200 8N1 with no modem lines asserted.
func DefaultSettings(device string) Settings {
	return Settings{
		Device:   device,
		BaudRate: 115200,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 1,
	}
}

// Validate checks the settings against what the driver layer supports.
func (s Settings) Validate() error {
	if s.Device == "" {
		return fmt.Errorf("%w: device is required", domain.ErrInvalidConfig)
	}
	if _, ok := baudFlags[s.BaudRate]; !ok {
		return fmt.Errorf("%w: unsupported baud rate %d", domain.ErrInvalidConfig, s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("%w: data bits must be 5-8, got %d", domain.ErrInvalidConfig, s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("%w: stop bits must be 1 or 2, got %d", domain.ErrInvalidConfig, s.StopBits)
	}
	if s.Parity < ParityNone || s.Parity > ParityEven {
		return fmt.Errorf("%w: invalid parity", domain.ErrInvalidConfig)
	}
	return nil
}

var baudFlags = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

var dataBitFlags = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}

// apply rewrites a fetched termios for raw operation with these settings.
func (s Settings) apply(t *unix.Termios) {
	// Raw mode
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag |= unix.CREAD | unix.CLOCAL

	// Baud rate
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baudFlags[s.BaudRate]

	// Character size
	t.Cflag &^= unix.CSIZE
	t.Cflag |= dataBitFlags[s.DataBits]

	// Stop bits
	if s.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}

	// Parity
	t.Cflag &^= unix.PARENB | unix.PARODD
	switch s.Parity {
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
	}

	// VMIN=1, VTIME=0: reads return as soon as at least one byte arrives
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}
