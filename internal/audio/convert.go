package audio

import "encoding/binary"

// PCM16Samples 把 16-bit LE PCM 解码为样本，奇数长度时忽略最后一个字节。
func PCM16Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// PCM16Bytes 把样本编码为 16-bit LE PCM。
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// DownmixStereo 把交错的立体声 16-bit LE PCM 混合为单声道。
// 不完整的尾部帧会被丢弃。go-mp3 解码结果总是立体声，需要先经过这里。
func DownmixStereo(pcm []byte) []byte {
	in := PCM16Samples(pcm[:len(pcm)/4*4])
	mono := make([]int16, len(in)/2)
	for i := range mono {
		mono[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return PCM16Bytes(mono)
}
