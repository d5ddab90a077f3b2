package pipeline

import (
	"io"
	"os"

	"github.com/klauspost/compress/flate"

	"krypt.co/packetkit/packet"
)

// CompressionAlgorithmByte identifies the LZ+Huffman stream inside a
// COMPRESSED packet.
const CompressionAlgorithmByte = 1

// pkzipSignature reports whether the header begins with a zip
// archive's magic; such input is already compressed and not worth
// squeezing again.
func pkzipSignature(header []byte) bool {
	return len(header) >= 4 &&
		header[0] == 'P' && header[1] == 'K' &&
		header[2] == 3 && header[3] == 4
}

// compressGate compresses f into a scratch file wrapped in a
// COMPRESSED packet, but only keeps the result when it is at least
// 10% smaller than the input and the input is not already a
// compressed archive.  On a kept result the returned file is the
// scratch, positioned at the start; otherwise f itself is returned,
// rewound.  The caller removes the scratch when done.
func compressGate(f *os.File, scratch string) (t *os.File, compressed bool, err error) {
	var header [4]byte
	n, _ := f.Read(header[:])
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return
	}
	if pkzipSignature(header[:n]) {
		t = f
		return
	}

	insize, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return
	}

	t, err = os.OpenFile(scratch, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return
	}
	if _, err = t.Write([]byte{packet.CTBCompressed, CompressionAlgorithmByte}); err != nil {
		return
	}
	zw, err := flate.NewWriter(t, flate.BestCompression)
	if err != nil {
		return
	}
	if _, err = io.Copy(zw, f); err != nil {
		return
	}
	if err = zw.Close(); err != nil {
		return
	}
	outsize, err := t.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}

	if outsize*10 < insize*9 { // at least 10% smaller
		log.Debugf("compressed %d -> %d bytes", insize, outsize)
		compressed = true
		_, err = t.Seek(0, io.SeekStart)
		return
	}

	// incompressible; pass the input along as it is
	log.Debugf("incompressible input (%d -> %d bytes)", insize, outsize)
	t.Close()
	os.Remove(scratch)
	t = f
	_, err = f.Seek(0, io.SeekStart)
	return
}

// Decompress unwraps a COMPRESSED packet, streaming the decoded
// payload to out.
func Decompress(in io.Reader, out io.Writer) (err error) {
	var hdr [2]byte
	if _, err = io.ReadFull(in, hdr[:1]); err != nil {
		return packet.ErrMalformed
	}
	if !packet.IsType(hdr[0], packet.TypeCompressed) {
		return packet.ErrMalformed
	}
	length, indefinite, err := packet.ReadLength(hdr[0], in)
	if err != nil {
		return
	}
	if !indefinite {
		in = io.LimitReader(in, int64(length))
	}
	if _, err = io.ReadFull(in, hdr[1:2]); err != nil {
		return packet.ErrMalformed
	}
	if hdr[1] != CompressionAlgorithmByte {
		return packet.ErrMalformed
	}
	zr := flate.NewReader(in)
	if _, err = io.Copy(out, zr); err != nil {
		return
	}
	err = zr.Close()
	return
}
