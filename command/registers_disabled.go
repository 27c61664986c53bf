//go:build !devregisters

package command

func registerWrite(addr uint16, value byte) error      { return ErrRegisterAccessDisabled }
func registerSetBits(addr uint16, bits byte) error      { return ErrRegisterAccessDisabled }
func registerClearBits(addr uint16, bits byte) error    { return ErrRegisterAccessDisabled }
func registerRead(addr uint16) (byte, error)            { return 0, ErrRegisterAccessDisabled }
