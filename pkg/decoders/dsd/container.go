package dsd

import (
	"encoding/binary"
	"fmt"
	"io"
)

// containerInfo is the subset of file-level metadata either container format
// yields: channel count, raw DSD bit rate, total DSD sample count (per
// channel), block size (DSF only; 0 for DFF), and the file offset/size of
// the raw bitstream.
type containerInfo struct {
	isDSF           bool
	channels        int
	dsdRateHz       uint32
	totalDSDSamples uint64
	blockSize       uint32 // DSF block-per-channel size; unused (0) for DFF
	dataOffset      int64
	dataSize        uint64
}

// parseDSF reads a DSF (Sony DSD Stream File) header: a 28-byte "DSD " file
// header, a 52-byte "fmt " chunk carrying rate/channels/block size, then a
// "data" chunk header immediately preceding the raw bitstream.
func parseDSF(r io.ReadSeeker) (containerInfo, error) {
	var info containerInfo

	var hdr struct {
		Magic          [4]byte
		ChunkSize      uint64
		TotalFileSize  uint64
		MetadataOffset uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return info, fmt.Errorf("dsd: read DSF header: %w", err)
	}
	if string(hdr.Magic[:]) != "DSD " {
		return info, fmt.Errorf("dsd: not a DSF file")
	}

	var fmtChunk struct {
		Magic           [4]byte
		ChunkSize       uint64
		FormatVersion   uint32
		FormatID        uint32
		ChannelType     uint32
		ChannelNum      uint32
		SampleRate      uint32
		BitsPerSample   uint32
		SampleCount     uint64
		BlockSizePerCh  uint32
		Reserved        uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &fmtChunk); err != nil {
		return info, fmt.Errorf("dsd: read DSF fmt chunk: %w", err)
	}
	if string(fmtChunk.Magic[:]) != "fmt " {
		return info, fmt.Errorf("dsd: missing DSF fmt chunk")
	}

	info.channels = int(fmtChunk.ChannelNum)
	info.dsdRateHz = fmtChunk.SampleRate
	info.totalDSDSamples = fmtChunk.SampleCount
	info.blockSize = fmtChunk.BlockSizePerCh

	if _, err := r.Seek(int64(28+fmtChunk.ChunkSize), io.SeekStart); err != nil {
		return info, fmt.Errorf("dsd: seek to DSF data chunk: %w", err)
	}

	var dataHdr struct {
		Magic     [4]byte
		ChunkSize uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &dataHdr); err != nil {
		return info, fmt.Errorf("dsd: read DSF data chunk header: %w", err)
	}
	if string(dataHdr.Magic[:]) != "data" {
		return info, fmt.Errorf("dsd: missing DSF data chunk")
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return info, fmt.Errorf("dsd: tell after DSF data header: %w", err)
	}

	info.isDSF = true
	info.dataOffset = pos
	info.dataSize = dataHdr.ChunkSize - 12
	return info, nil
}

func readBE64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// parseDFF reads a Philips DSDIFF ("FRM8"/"DSD ") header and walks its
// top-level chunks: PROP carries nested FS (sample rate) and CHNL (channel
// count) sub-chunks, and DSD is the raw bitstream chunk itself.
func parseDFF(r io.ReadSeeker) (containerInfo, error) {
	var info containerInfo
	info.channels = 2
	info.dsdRateHz = 2822400

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return info, fmt.Errorf("dsd: read DFF magic: %w", err)
	}
	if string(magic[:]) != "FRM8" {
		return info, fmt.Errorf("dsd: not a DFF file")
	}

	if _, err := r.Seek(8, io.SeekCurrent); err != nil {
		return info, err
	}

	var formType [4]byte
	if _, err := io.ReadFull(r, formType[:]); err != nil {
		return info, fmt.Errorf("dsd: read DFF form type: %w", err)
	}
	if string(formType[:]) != "DSD " {
		return info, fmt.Errorf("dsd: not a DSD DFF file")
	}

	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(r, chunkID[:]); err != nil {
			break
		}
		chunkSize, err := readBE64(r)
		if err != nil {
			break
		}

		switch string(chunkID[:]) {
		case "PROP":
			var propType [4]byte
			if _, err := io.ReadFull(r, propType[:]); err != nil {
				return info, err
			}
			remaining := int64(chunkSize) - 4

			for remaining > 0 {
				var subID [4]byte
				if _, err := io.ReadFull(r, subID[:]); err != nil {
					return info, err
				}
				subSize, err := readBE64(r)
				if err != nil {
					return info, err
				}

				switch string(subID[:]) {
				case "FS  ":
					var rateBytes [4]byte
					if _, err := io.ReadFull(r, rateBytes[:]); err != nil {
						return info, err
					}
					info.dsdRateHz = binary.BigEndian.Uint32(rateBytes[:])
					if subSize > 4 {
						if _, err := r.Seek(int64(subSize-4), io.SeekCurrent); err != nil {
							return info, err
						}
					}
				case "CHNL":
					var chBytes [2]byte
					if _, err := io.ReadFull(r, chBytes[:]); err != nil {
						return info, err
					}
					info.channels = int(chBytes[0])<<8 | int(chBytes[1])
					if subSize > 2 {
						if _, err := r.Seek(int64(subSize-2), io.SeekCurrent); err != nil {
							return info, err
						}
					}
				default:
					if _, err := r.Seek(int64(subSize), io.SeekCurrent); err != nil {
						return info, err
					}
				}
				remaining -= 12 + int64(subSize)
			}
		case "DSD ":
			pos, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return info, err
			}
			info.dataOffset = pos
			info.dataSize = chunkSize
			info.isDSF = false
			if info.channels <= 0 {
				info.channels = 2
			}
			info.totalDSDSamples = info.dataSize * 8 / uint64(info.channels)
			return info, nil
		default:
			if _, err := r.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return info, err
			}
		}
	}

	return info, fmt.Errorf("dsd: DFF file has no DSD data chunk")
}
