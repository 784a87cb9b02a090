package serial

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/serialbatch/internal/domain"
	"github.com/bft-labs/serialbatch/internal/ports"
)

const readBufSize = 4096

// Port implements ports.DevicePort for a Linux serial device. The same
// instance can be opened and closed repeatedly; each Open acquires a fresh
// file descriptor and starts a fresh reader goroutine.
type Port struct {
	settings Settings

	mu         sync.Mutex
	opened     bool
	fd         int
	file       *os.File
	pipeR      int // self-pipe read fd, wakes poll on Close
	pipeW      int
	done       chan struct{}
	readerDone chan struct{}
}

// NewPort creates a port for the given settings. The device is not touched
// until Open.
func NewPort(s Settings) *Port {
	return &Port{settings: s}
}

// Open implements ports.DevicePort. It opens the device, configures raw
// termios per the settings, asserts any requested modem-control lines, and
// starts the reader goroutine delivering chunks to sink.
func (p *Port) Open(sink ports.ReceiveSink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return domain.ErrAlreadyOpen
	}
	if err := p.settings.Validate(); err != nil {
		return err
	}

	fd, err := syscall.Open(p.settings.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.settings.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return fmt.Errorf("get termios: %w", err)
	}
	p.settings.apply(termios)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("set termios: %w", err)
	}

	if err := p.setModemLines(fd); err != nil {
		syscall.Close(fd)
		return err
	}

	// Back to blocking mode now that config is done
	syscall.SetNonblock(fd, false)

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("pipe: %w", err)
	}

	p.fd = fd
	p.file = os.NewFile(uintptr(fd), p.settings.Device)
	p.pipeR = pipeFds[0]
	p.pipeW = pipeFds[1]
	p.done = make(chan struct{})
	p.readerDone = make(chan struct{})
	p.opened = true

	go p.readerLoop(sink, p.fd, p.file, p.pipeR, p.done, p.readerDone)

	return nil
}

func (p *Port) setModemLines(fd int) error {
	if p.settings.RTS {
		if err := unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_RTS); err != nil {
			return fmt.Errorf("assert RTS: %w", err)
		}
	}
	if p.settings.DTR {
		if err := unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR); err != nil {
			return fmt.Errorf("assert DTR: %w", err)
		}
	}
	return nil
}

// Write implements ports.DevicePort. Bytes go straight to the driver.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	file := p.file
	opened := p.opened
	p.mu.Unlock()

	if !opened {
		return 0, domain.ErrPortClosed
	}
	return file.Write(b)
}

// Close implements ports.DevicePort. It wakes the reader via the self-pipe,
// waits for it to exit, then releases the descriptors. Closing a port that
// is not open is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return nil
	}
	p.opened = false

	close(p.done)
	unix.Write(p.pipeW, []byte{1})
	<-p.readerDone

	err := p.file.Close()
	unix.Close(p.pipeR)
	unix.Close(p.pipeW)
	p.file = nil
	return err
}

// readerLoop polls the device and the self-pipe. Every successful read is
// one chunk handed to the sink; the sink copies it before returning, so the
// read buffer is reused. A read error ends the loop: it is reported through
// the sink unless the port is closing.
func (p *Port) readerLoop(sink ports.ReceiveSink, fd int, file *os.File, pipeR int, done <-chan struct{}, readerDone chan<- struct{}) {
	defer close(readerDone)

	buf := make([]byte, readBufSize)
	for {
		pfd := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			select {
			case <-done:
			default:
				sink.OnRawError(fmt.Errorf("poll %s: %w", p.settings.Device, err))
			}
			return
		}

		select {
		case <-done:
			return
		default:
		}

		if pfd[1].Revents&unix.POLLIN != 0 {
			// Self-pipe written by Close
			var b [1]byte
			unix.Read(pipeR, b[:])
			return
		}

		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			select {
			case <-done:
			default:
				sink.OnRawError(fmt.Errorf("%s: device hangup", p.settings.Device))
			}
			return
		}

		if pfd[0].Revents&unix.POLLIN != 0 {
			n, err := file.Read(buf)
			if err != nil {
				select {
				case <-done:
				default:
					sink.OnRawError(fmt.Errorf("read %s: %w", p.settings.Device, err))
				}
				return
			}
			if n > 0 {
				sink.OnRawBytes(buf[:n])
			}
		}
	}
}
