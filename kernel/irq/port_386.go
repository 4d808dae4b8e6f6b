package irq

import "github.com/d4ilyrun/kernel-sub002/kernel/cpu"

func portOutB(port uint16, value uint8) {
	cpu.OutB(port, value)
}
