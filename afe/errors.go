package afe

import "fmt"

func wrapf(format string, a ...interface{}) error {
	return fmt.Errorf("afe: "+format, a...)
}
