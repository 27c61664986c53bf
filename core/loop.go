package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// CommandDrainer is the subset of command.Processor the loop drives.
type CommandDrainer interface {
	Drain()
}

// BatchProcessor is the subset of batch.Assembler the loop drives.
type BatchProcessor interface {
	Process() error
}

// Opts configures a Loop.
type Opts struct {
	// Logger receives per-pass diagnostics. Logging happens only on
	// the main-loop side of the gate, never from the Wake-calling
	// goroutines that stand in for ISRs, matching the original
	// firmware's rule that logging is a main-loop/debug concern.
	Logger *logrus.Logger
}

// DefaultOpts disables logging.
var DefaultOpts = Opts{}

// Loop is the Go translation of:
//
//	while wake: wake=false; commands.process(); batch.process()
//	disable_interrupts
//	if not wake: sleep_and_enable_interrupts
//	enable_interrupts
//
// commands.Drain() parses and dispatches everything currently queued
// on the serial link (the command-processor side of one pass);
// batch.Process() pumps the AFE/aux pipeline once (the
// batch-assembler side). Both run every time Gate reports a pending
// wake, and Run blocks on the gate between passes instead of busy
// spinning.
type Loop struct {
	commands CommandDrainer
	batch    BatchProcessor
	gate     *Gate
	opts     Opts
}

// New builds a Loop. A nil opts uses DefaultOpts.
func New(commands CommandDrainer, batch BatchProcessor, gate *Gate, opts *Opts) *Loop {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	return &Loop{commands: commands, batch: batch, gate: gate, opts: o}
}

// Run services the gate until ctx is done. It never returns nil; a
// cancelled/done ctx surfaces as ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	for {
		for l.gate.TryConsume() {
			l.pass()
		}
		if err := l.gate.Wait(ctx); err != nil {
			return err
		}
		l.pass()
	}
}

func (l *Loop) pass() {
	l.commands.Drain()
	if err := l.batch.Process(); err != nil {
		if l.opts.Logger != nil {
			l.opts.Logger.WithError(err).Debug("core: batch pass")
		}
	}
}
