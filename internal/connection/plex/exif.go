package plex

import (
	"bytes"
	"encoding/binary"
)

// ownerMark is written into every uploaded image's EXIF description and
// attached to the metadata item as a Plex label. Later source-image reads
// check for it so a previously uploaded card is never mistaken for server
// source material.
const ownerMark = "titlecardmaker"

var (
	jpegSOI    = []byte{0xFF, 0xD8}
	exifHeader = []byte("Exif\x00\x00")
)

// markImage inserts an EXIF APP1 segment carrying ownerMark as the image
// description, directly after the JPEG SOI marker. Non-JPEG data and
// already-marked images pass through unchanged.
func markImage(data []byte) []byte {
	if !bytes.HasPrefix(data, jpegSOI) || isMarked(data) {
		return data
	}
	seg := exifSegment(ownerMark)
	out := make([]byte, 0, len(data)+len(seg))
	out = append(out, data[:2]...)
	out = append(out, seg...)
	out = append(out, data[2:]...)
	return out
}

// isMarked reports whether the JPEG carries an EXIF segment containing
// ownerMark. Scanning stops at the start-of-scan marker since EXIF must
// precede the image data.
func isMarked(data []byte) bool {
	if !bytes.HasPrefix(data, jpegSOI) {
		return false
	}
	i := 2
	for i+4 <= len(data) && data[i] == 0xFF {
		marker := data[i+1]
		if marker == 0xDA || marker == 0xD9 {
			break
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if length < 2 || i+2+length > len(data) {
			break
		}
		payload := data[i+4 : i+2+length]
		if marker == 0xE1 && bytes.HasPrefix(payload, exifHeader) &&
			bytes.Contains(payload, []byte(ownerMark)) {
			return true
		}
		i += 2 + length
	}
	return false
}

// exifSegment builds a minimal APP1 EXIF segment whose single IFD entry is
// an ImageDescription (tag 0x010E) holding the given text.
func exifSegment(description string) []byte {
	desc := append([]byte(description), 0)

	// Little-endian TIFF: header (8) + entry count (2) + one entry (12)
	// + next-IFD offset (4), then the description bytes at offset 26.
	tiff := &bytes.Buffer{}
	tiff.WriteString("II")
	binary.Write(tiff, binary.LittleEndian, uint16(0x2A))
	binary.Write(tiff, binary.LittleEndian, uint32(8))
	binary.Write(tiff, binary.LittleEndian, uint16(1))
	binary.Write(tiff, binary.LittleEndian, uint16(0x010E))
	binary.Write(tiff, binary.LittleEndian, uint16(2)) // ASCII
	binary.Write(tiff, binary.LittleEndian, uint32(len(desc)))
	binary.Write(tiff, binary.LittleEndian, uint32(26))
	binary.Write(tiff, binary.LittleEndian, uint32(0))
	tiff.Write(desc)

	payload := append(append([]byte{}, exifHeader...), tiff.Bytes()...)
	seg := &bytes.Buffer{}
	seg.Write([]byte{0xFF, 0xE1})
	binary.Write(seg, binary.BigEndian, uint16(len(payload)+2))
	seg.Write(payload)
	return seg.Bytes()
}
