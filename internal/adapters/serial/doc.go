// Package serial implements ports.DevicePort for Linux serial devices using
// raw termios I/O.
//
// The port is configured for raw, low-latency operation (VMIN=1, VTIME=0, no
// line discipline) and read through poll(2) together with a self-pipe, so a
// blocked reader can always be woken by Close. Each successful read hands one
// byte chunk to the receive sink; framing is the application's concern.
//
// This package does not support Windows.
package serial
