package sim

// ad7705 models the converter's serial interface: a communications
// register selects the next register access, which is then shifted in or
// out MSB first.
type ad7705 struct {
	// interface state
	shiftIn  uint32
	bitsIn   int
	wantBits int // bits expected for the pending write, 0 when idle
	target   byte

	shiftOut uint32
	bitsOut  int  // bits still to shift out
	reading  bool // a register is being read, DIN ignored
	dout     bool

	// registers
	setup [2]byte
	clock [2]byte
	zero  [2]uint32
	ch    byte

	// stuck at full scale until the next zero-scale calibration
	stuck      [2]bool
	satReads   int
	calibrated [2]int
}

const (
	regComms = 0
	regSetup = 1
	regClock = 2
	regData  = 3
	regZero  = 6
	regFull  = 7

	zeroScaleValue = 0x1F4000
)

func (a *ad7705) reset() {
	*a = ad7705{dout: true}
}

// deselect floats DOUT. The interface keeps its position, as the part
// does, so a read may span several select frames.
func (a *ad7705) deselect() {
	a.dout = true
}

// falling presents the next output bit.
func (a *ad7705) falling() {
	if a.bitsOut == 0 {
		a.dout = true
		return
	}
	a.bitsOut--
	a.dout = a.shiftOut&(1<<uint(a.bitsOut)) != 0
}

// rising latches din. sample is called to fetch a conversion when a data
// read is started.
func (a *ad7705) rising(din bool, sample func(ch byte) uint16) {
	if a.reading {
		if a.bitsOut == 0 {
			a.reading = false
		}
		return
	}
	a.shiftIn <<= 1
	if din {
		a.shiftIn |= 1
	}
	a.bitsIn++

	if a.wantBits == 0 {
		if a.bitsIn < 8 {
			return
		}
		a.comms(byte(a.shiftIn), sample)
		a.shiftIn, a.bitsIn = 0, 0
		return
	}
	if a.bitsIn < a.wantBits {
		return
	}
	a.write(a.target, byte(a.shiftIn))
	a.shiftIn, a.bitsIn, a.wantBits = 0, 0, 0
}

func (a *ad7705) comms(b byte, sample func(ch byte) uint16) {
	if b&0x80 != 0 {
		return // /DRDY must be zero for a valid write
	}
	rs := (b >> 4) & 0x07
	read := b&0x08 != 0
	a.ch = b & 0x01

	if !read {
		switch rs {
		case regSetup, regClock:
			a.target = rs
			a.wantBits = 8
		}
		return
	}
	switch rs {
	case regData:
		a.load(uint32(sample(a.ch)), 16)
	case regSetup:
		a.load(uint32(a.setup[a.ch]), 8)
	case regClock:
		a.load(uint32(a.clock[a.ch]), 8)
	case regZero:
		a.load(a.zero[a.ch], 24)
	}
}

func (a *ad7705) load(v uint32, bits int) {
	a.shiftOut = v
	a.bitsOut = bits
	a.reading = true
}

func (a *ad7705) write(reg, v byte) {
	switch reg {
	case regClock:
		a.clock[a.ch] = v
	case regSetup:
		a.setup[a.ch] = v
		if v&0xC0 == 0x80 || v&0xC0 == 0x40 {
			a.zero[a.ch] = zeroScaleValue
			a.stuck[a.ch] = false
			a.calibrated[a.ch]++
		}
	}
}

// ad7243 models the DAC: a 16-bit frame latched when /SYNC rises.
type ad7243 struct {
	shift  uint16
	bits   int
	code   uint16
	writes int
}

func (d *ad7243) rising(din bool) {
	d.shift <<= 1
	if din {
		d.shift |= 1
	}
	d.bits++
}

func (d *ad7243) latch() {
	if d.bits >= 16 {
		d.code = d.shift & 0x0FFF
		d.writes++
	}
	d.shift, d.bits = 0, 0
}
