// Package auxadc drives the on-chip auxiliary converter: three
// accelerometer axes plus a battery-voltage channel, sequenced together
// on every trigger and accumulated across ten triggers into a
// double-buffered sum, the same cadence the AFE driver uses for one
// egress frame.
//
// Where the original firmware triggered the conversion sequence from
// adc_convert_begin and harvested results from the ADC10 completion
// interrupt, this package triggers each conn/analog.ADC channel from
// Begin and harvests it on a background goroutine standing in for that
// interrupt, following the same asynchronous-completion shape as
// ads1x15's ReadContinuous.
package auxadc

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"periph.io/x/periph/conn/analog"
)

// Channels is the fixed number of on-chip channels sampled together:
// three accelerometer axes and one battery-voltage reading.
const Channels = 4

// ErrConversionInFlight is returned by Begin when a previous conversion
// has not yet completed.
var ErrConversionInFlight = errors.New("auxadc: conversion already in flight")

// Opts configures a Adc. Following cap1xxx.Opts/bme280.Opts, a nil Opts
// passed to New means "use DefaultOpts".
type Opts struct {
	// Logger receives conversion-error diagnostics from the completion
	// goroutine. Never called from Begin, which is invoked from the
	// DRDY context.
	Logger *logrus.Logger
}

// DefaultOpts disables logging.
var DefaultOpts = Opts{}

// Adc samples Channels analog.ADC pins in lockstep and accumulates the
// readings into a double-buffered set of 16-bit sums. Ten accumulations
// are expected per Get, matching one egress frame's worth of DRDY
// events; each raw sample is assumed to fit in 10 bits so ten of them
// can never overflow a 16-bit sum (max 10*1023 = 10230).
type Adc struct {
	channels [Channels]analog.ADC
	onReady  func()
	opts     Opts

	mu    sync.Mutex
	accum [2][Channels]uint16
	fill  int
	busy  bool
}

// New builds an Adc sampling the given channels in order. onReady, if
// non-nil, is invoked (off the conversion goroutine) every time a
// conversion completes and is folded into the accumulator — the Go
// equivalent of the ADC completion ISR setting the main loop's wake
// flag. A nil opts uses DefaultOpts.
func New(channels [Channels]analog.ADC, onReady func(), opts *Opts) *Adc {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	return &Adc{channels: channels, onReady: onReady, opts: o}
}

// Begin triggers a four-channel conversion sequence. It reports
// ErrConversionInFlight if the previous sequence has not completed.
func (a *Adc) Begin() error {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return ErrConversionInFlight
	}
	a.busy = true
	a.mu.Unlock()

	go a.convert()
	return nil
}

func (a *Adc) convert() {
	var readings [Channels]uint16
	for i, ch := range a.channels {
		if err := ch.ADC(); err != nil {
			if a.opts.Logger != nil {
				a.opts.Logger.WithField("channel", i).WithError(err).Warn("auxadc: channel conversion failed")
			}
			continue
		}
		readings[i] = uint16(ch.Measure())
	}

	a.mu.Lock()
	for i, v := range readings {
		a.accum[a.fill][i] += v
	}
	a.busy = false
	a.mu.Unlock()

	if a.onReady != nil {
		a.onReady()
	}
}

// Get swaps the accumulator halves, zeroing the new fill side, and
// returns the retired side as eight bytes: four little-endian 16-bit
// words in channel order. The caller receives the sum of up to ten
// conversions, not an average — this is documented wire behavior, not
// a bug.
func (a *Adc) Get() [Channels * 2]byte {
	a.mu.Lock()
	retired := a.fill
	newFill := 1 - retired
	sums := a.accum[retired]
	a.accum[newFill] = [Channels]uint16{}
	a.fill = newFill
	a.mu.Unlock()

	var out [Channels * 2]byte
	for i, v := range sums {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], v)
	}
	return out
}
