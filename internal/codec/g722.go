package codec

import g722 "github.com/gotranspile/g722"

// RTP carries G.722 at the full 64 kbit/s mode over 16 kHz audio, one octet
// per two samples.
const g722Rate = g722.Rate64000

type g722Encoder struct {
	enc *g722.Encoder
}

func newG722Encoder() *g722Encoder {
	return &g722Encoder{enc: g722.NewEncoder(g722Rate, 0)}
}

func (e *g722Encoder) Encode(pcm []int16) ([]byte, error) {
	buf := make([]byte, len(pcm))
	n := e.enc.Encode(buf, pcm)
	return buf[:n], nil
}

type g722Decoder struct {
	dec *g722.Decoder
}

func newG722Decoder() *g722Decoder {
	return &g722Decoder{dec: g722.NewDecoder(g722Rate, 0)}
}

func (d *g722Decoder) Decode(payload []byte) ([]int16, error) {
	buf := make([]int16, len(payload)*2)
	n := d.dec.Decode(buf, payload)
	return buf[:n], nil
}
