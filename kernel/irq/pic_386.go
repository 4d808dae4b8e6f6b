package irq

import "github.com/d4ilyrun/kernel-sub002/kernel/cpu"

const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	picEOI = 0x20

	icw1Init  = 0x10
	icw1ICW4  = 0x01
	icw4_8086 = 0x01
)

// remapPIC reprogrammes the master/slave 8259 pair so that IRQ0-7 land on
// IDT vectors 0x20-0x27 and IRQ8-15 land on 0x28-0x2F, out of the way of the
// CPU's own exception vectors.
func remapPIC() {
	// Save the current masks; the in-progress ICW sequence resets them.
	masterMask := cpu.InB(picMasterData)
	slaveMask := cpu.InB(picSlaveData)

	cpu.OutB(picMasterCommand, icw1Init|icw1ICW4)
	cpu.IOWait()
	cpu.OutB(picSlaveCommand, icw1Init|icw1ICW4)
	cpu.IOWait()

	cpu.OutB(picMasterData, picVectorBase) // ICW2: master vector offset
	cpu.IOWait()
	cpu.OutB(picSlaveData, picVectorBase+8) // ICW2: slave vector offset
	cpu.IOWait()

	cpu.OutB(picMasterData, 1<<uint(LineCascade)) // ICW3: slave wired to IRQ2
	cpu.IOWait()
	cpu.OutB(picSlaveData, 2) // ICW3: cascade identity
	cpu.IOWait()

	cpu.OutB(picMasterData, icw4_8086)
	cpu.IOWait()
	cpu.OutB(picSlaveData, icw4_8086)
	cpu.IOWait()

	cpu.OutB(picMasterData, masterMask)
	cpu.OutB(picSlaveData, slaveMask)
}

// maskAll disables every IRQ line at the PIC. Lines are unmasked one at a
// time as handlers are registered.
func maskAll() {
	cpu.OutB(picMasterData, 0xFF)
	cpu.OutB(picSlaveData, 0xFF)
}

func mask(line Line) {
	if line < 8 {
		cur := cpu.InB(picMasterData)
		cpu.OutB(picMasterData, cur|(1<<uint(line)))
		return
	}

	cur := cpu.InB(picSlaveData)
	cpu.OutB(picSlaveData, cur|(1<<uint(line-8)))
}

func unmask(line Line) {
	if line < 8 {
		cur := cpu.InB(picMasterData)
		cpu.OutB(picMasterData, cur&^(1<<uint(line)))
		return
	}

	// Any slave line requires the cascade line on the master to stay
	// unmasked too.
	cur := cpu.InB(picMasterData)
	cpu.OutB(picMasterData, cur&^(1<<uint(LineCascade)))

	cur = cpu.InB(picSlaveData)
	cpu.OutB(picSlaveData, cur&^(1<<uint(line-8)))
}

// sendEOI acknowledges the interrupt to the PIC(s) so further IRQs can be
// delivered. Slave-originated IRQs require an EOI on both controllers.
func sendEOI(line Line) {
	if line >= 8 {
		cpu.OutB(picSlaveCommand, picEOI)
	}
	cpu.OutB(picMasterCommand, picEOI)
}
