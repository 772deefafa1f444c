//go:build !linux

package source

import "os"

func adviseSequential(_ *os.File) error {
	return nil
}
