package packet

import (
	"fmt"

	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/mpint"
)

var (
	ErrChecksum = fmt.Errorf("checksum mismatch unblocking an RSA block")
	ErrPad      = fmt.Errorf("pad count out of range unblocking an RSA block")
)

// A plaintext must become an integer less than the modulus before RSA
// can touch it, so it is left-aligned in a block one byte shorter than
// the modulus and padded out.  The last counted pad byte holds the
// number of pad bytes preceding it, itself included; with more than
// 255 pad bytes the counted run caps at 255 and the excess is zeros,
// which the unblocker skips before reading the count.  A 16-bit
// checksum of data and padding may be appended.  Messages encrypted
// to a public key use random pad bytes; signatures use the counted
// constant pattern throughout.

// checksum16 sums payload bytes mod 2^16.
func checksum16(buf []byte) uint16 {
	var cs uint16
	for _, b := range buf {
		cs += uint16(b)
	}
	return cs
}

// Blocksize returns the usable plaintext capacity of one RSA block.
func Blocksize(c *mpint.Ctx, modulus mpint.Reg, cks bool) int {
	bytePrecision := mpint.UnitsToBytes(c.Precision())
	leadingZeros := bytePrecision - c.CountBytes(modulus) + 1
	n := bytePrecision - leadingZeros
	if cks {
		n -= 2
	}
	return n
}

// Preblock converts a plaintext block into a register ready for RSA.
// randomPad supplies pad material for public-key encryption; nil
// selects the counted constant padding used for signatures.  Returns
// the count of input bytes that did not fit (negative when the block
// had room to spare).
func Preblock(c *mpint.Ctx, outreg mpint.Reg, in []byte, modulus mpint.Reg, cks bool, randomPad []byte) int {
	bytePrecision := mpint.UnitsToBytes(c.Precision())
	blocksize := Blocksize(c, modulus, cks)

	bytecount := len(in)
	remaining := bytecount - blocksize
	if remaining >= 0 {
		bytecount = blocksize
	}
	padsize := blocksize - bytecount

	out := make([]byte, bytePrecision)
	i := copy(out, in[:bytecount])

	// pads beyond 255 spill over as zeros
	excessPads := 0
	if padsize > 255 {
		excessPads = padsize - 255
		padsize -= excessPads
	}

	var pad byte
	if randomPad != nil {
		for ; padsize > 1; padsize-- {
			pad++
			out[i] = randomPad[0]
			randomPad = randomPad[1:]
			i++
		}
	}
	for ; padsize > 0; padsize-- {
		pad++
		out[i] = pad
		i++
	}
	for ; excessPads > 0; excessPads-- {
		out[i] = 0
		i++
	}

	if cks {
		cs := checksum16(out[:blocksize])
		out[i] = byte(cs)
		out[i+1] = byte(cs >> 8)
		i += 2
	}
	// the rest of the register stays zero: the reserved leading byte
	// and any slack above the modulus

	c.Init(outreg, 0)
	for j := 0; j < bytePrecision; j++ {
		setRegByte(outreg, j, out[j])
	}
	burn.Bytes(out)
	return remaining
}

// Postunblock converts a just-decrypted register back into plaintext,
// verifying the checksum and stripping the padding.  The pad is found
// by scanning from the block's end: zeros are skipped, and the first
// nonzero byte counts the constant run before it.
func Postunblock(c *mpint.Ctx, inreg, modulus mpint.Reg, padded, cks bool) (data []byte, err error) {
	bytePrecision := mpint.UnitsToBytes(c.Precision())
	blocksize := Blocksize(c, modulus, cks)

	buf := make([]byte, bytePrecision)
	for i := 0; i < bytePrecision; i++ {
		buf[i] = regByte(inreg, i)
	}

	if cks {
		declared := uint16(buf[blocksize]) | uint16(buf[blocksize+1])<<8
		if declared != checksum16(buf[:blocksize]) {
			burn.Bytes(buf)
			err = ErrChecksum
			return
		}
	}

	padsize := 0
	if padded {
		i := blocksize - 1
		for i >= 0 && buf[i] == 0 { // clip off null excess pad bytes
			padsize++
			i--
		}
		if i >= 0 {
			padsize += int(buf[i])
		}
	}
	if padsize > blocksize {
		burn.Bytes(buf)
		err = ErrPad // bogus padding
		return
	}

	data = make([]byte, blocksize-padsize)
	copy(data, buf)
	burn.Bytes(buf)
	return
}
