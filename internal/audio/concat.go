// Package audio joins synthesized audio fragments into a single chapter
// file.
package audio

// Concatenator joins ordered audio fragments of one format into a single
// playable stream.
type Concatenator interface {
	// Concat appends the fragments in order and returns the combined audio.
	Concat(fragments [][]byte) ([]byte, error)
	// Format reports the audio format this concatenator handles.
	Format() string
}

// MP3Concatenator joins MP3 fragments by frame-stream concatenation. MP3
// frames are self-describing, so decoders play a concatenated stream
// straight through. ID3v2 tags on fragments after the first would be
// garbage mid-stream and are stripped.
type MP3Concatenator struct{}

// NewMP3Concatenator creates an MP3 concatenator.
func NewMP3Concatenator() *MP3Concatenator {
	return &MP3Concatenator{}
}

func (c *MP3Concatenator) Format() string {
	return "mp3"
}

func (c *MP3Concatenator) Concat(fragments [][]byte) ([]byte, error) {
	var total int
	for _, f := range fragments {
		total += len(f)
	}

	out := make([]byte, 0, total)
	for i, f := range fragments {
		if i > 0 {
			f = stripID3v2(f)
		}
		out = append(out, f...)
	}
	return out, nil
}

// stripID3v2 removes a leading ID3v2 tag if present. The tag is "ID3", two
// version bytes, one flags byte, then a four-byte synchsafe size of the tag
// body.
func stripID3v2(data []byte) []byte {
	if len(data) < 10 || data[0] != 'I' || data[1] != 'D' || data[2] != '3' {
		return data
	}
	size := synchsafe(data[6:10])
	end := 10 + size
	if end > len(data) {
		return data
	}
	return data[end:]
}

// synchsafe decodes a 4-byte synchsafe integer (7 bits per byte).
func synchsafe(b []byte) int {
	return int(b[0]&0x7f)<<21 | int(b[1]&0x7f)<<14 | int(b[2]&0x7f)<<7 | int(b[3]&0x7f)
}
