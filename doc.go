// Package biocore is the firmware core of a two-channel biosignal
// acquisition wearable, reimagined as a periph.io-style device driver
// tree.
//
// The analog front end (package afe) and the on-chip auxiliary
// converter (package auxadc) are driven over the interfaces
// periph.io/x/periph/conn already defines for any periph.io device:
// conn.Conn for the synchronous register bus (wrapped as
// transport/periphbus.Bus), conn/gpio.PinIn/PinOut for reset and DRDY,
// and conn/analog.ADC for the accelerometer and battery channels. The
// host link is carried by transport/seriallink, a non-blocking
// transmit/receive pair built on package ringfifo exactly as the
// device's own UART-to-SPI bridge is built on a fixed-capacity byte
// queue.
//
// package batch assembles the two streams into numbered 73-byte
// frames; package command parses the host's command protocol off the
// same link and dispatches it against the AFE, the frame assembler,
// and the device's fixed identity replies. package core ties these
// into one event loop: a Gate standing in for the firmware's wake flag
// and a Registry standing in for periph.Register/periph.Init.
//
// → cmd/hostbridge bridges a real OS serial port to this module for
// manual testing against actual hardware.
//
// → cmd/devicesim wires every subsystem to in-memory fakes so the full
// acquisition and command pipeline can run, and be watched, without any
// hardware attached.
package biocore // import "biocore.dev/biocore"
