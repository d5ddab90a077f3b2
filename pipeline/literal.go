package pipeline

import (
	"io"

	"krypt.co/packetkit/packet"
)

// MakeLiteral prepends the LITERAL wrapper to a stream.  The packet
// carries no length field, extending to the end of the stream.
func MakeLiteral(in io.Reader, out io.Writer) (err error) {
	if _, err = out.Write([]byte{packet.CTBLiteral}); err != nil {
		return
	}
	_, err = io.Copy(out, in)
	return
}

// StripLiteral removes the LITERAL wrapper, recovering the raw
// payload bytes.
func StripLiteral(in io.Reader, out io.Writer) (err error) {
	var ctb [1]byte
	if _, err = io.ReadFull(in, ctb[:]); err != nil {
		return packet.ErrMalformed
	}
	if !packet.IsType(ctb[0], packet.TypeLiteral) {
		return packet.ErrMalformed
	}
	length, indefinite, err := packet.ReadLength(ctb[0], in)
	if err != nil {
		return
	}
	if indefinite {
		_, err = io.Copy(out, in)
		return
	}
	_, err = io.CopyN(out, in, int64(length))
	if err == io.EOF {
		err = packet.ErrMalformed
	}
	return
}
