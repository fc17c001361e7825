package shmreg

import (
	"encoding/binary"
)

// deviceFieldLen and uriFieldLen bound the string fields carried in a
// descriptor so its encoded size is fixed, matching spec.md §6's shared
// memory rule: "region size is the runtime size of the corresponding
// descriptor (must be identical in all processes sharing the region)".
const (
	deviceFieldLen = 64
	uriFieldLen    = 192
)

// PipelineDescriptor is the value-typed subset of a Pipeline that may
// cross the process boundary (spec.md §4.6, §9 "Cross-process shared
// object pattern": handles to in-process media objects are never copied,
// only plain data).
type PipelineDescriptor struct {
	NodeID         uint32
	SourceKind     uint32
	Device         [deviceFieldLen]byte
	Width          uint32
	Height         uint32
	Framerate      uint32
	ShowOverlay    uint32
	AdaptorKind    uint32
	TargetCount    uint32
}

// PipelineDescriptorSize is the fixed encoded size of a PipelineDescriptor.
const PipelineDescriptorSize = 4*8 + deviceFieldLen

// EncodePipeline performs the pipeline_deep_copy serialization (spec.md
// §4.6): only value fields are written, never a pointer.
func EncodePipeline(d PipelineDescriptor) []byte {
	buf := make([]byte, PipelineDescriptorSize)
	binary.BigEndian.PutUint32(buf[0:4], d.NodeID)
	binary.BigEndian.PutUint32(buf[4:8], d.SourceKind)
	copy(buf[8:8+deviceFieldLen], d.Device[:])
	off := 8 + deviceFieldLen
	binary.BigEndian.PutUint32(buf[off:off+4], d.Width)
	binary.BigEndian.PutUint32(buf[off+4:off+8], d.Height)
	binary.BigEndian.PutUint32(buf[off+8:off+12], d.Framerate)
	binary.BigEndian.PutUint32(buf[off+12:off+16], d.ShowOverlay)
	binary.BigEndian.PutUint32(buf[off+16:off+20], d.AdaptorKind)
	binary.BigEndian.PutUint32(buf[off+20:off+24], d.TargetCount)
	return buf
}

// DecodePipeline is the inverse of EncodePipeline (pipeline_deep_copy on
// the receiving side: handles to in-process media objects stay null, per
// spec.md §9 — the returned descriptor carries no such handles at all).
func DecodePipeline(buf []byte) PipelineDescriptor {
	var d PipelineDescriptor
	if len(buf) < PipelineDescriptorSize {
		return d
	}
	d.NodeID = binary.BigEndian.Uint32(buf[0:4])
	d.SourceKind = binary.BigEndian.Uint32(buf[4:8])
	copy(d.Device[:], buf[8:8+deviceFieldLen])
	off := 8 + deviceFieldLen
	d.Width = binary.BigEndian.Uint32(buf[off : off+4])
	d.Height = binary.BigEndian.Uint32(buf[off+4 : off+8])
	d.Framerate = binary.BigEndian.Uint32(buf[off+8 : off+12])
	d.ShowOverlay = binary.BigEndian.Uint32(buf[off+12 : off+16])
	d.AdaptorKind = binary.BigEndian.Uint32(buf[off+16 : off+20])
	d.TargetCount = binary.BigEndian.Uint32(buf[off+20 : off+24])
	return d
}

// TargetDescriptor is the value-typed subset of a Target that crosses the
// process boundary.
type TargetDescriptor struct {
	TargetID       uint32
	Kind           uint32
	Codec          uint32
	Backend        uint32
	URI            [uriFieldLen]byte
	Bitrate        uint32
	BitrateControl uint32
	Quantizer      uint32
	State          uint32
}

// TargetDescriptorSize is the fixed encoded size of a TargetDescriptor.
const TargetDescriptorSize = 4*8 + uriFieldLen

func EncodeTarget(d TargetDescriptor) []byte {
	buf := make([]byte, TargetDescriptorSize)
	binary.BigEndian.PutUint32(buf[0:4], d.TargetID)
	binary.BigEndian.PutUint32(buf[4:8], d.Kind)
	binary.BigEndian.PutUint32(buf[8:12], d.Codec)
	binary.BigEndian.PutUint32(buf[12:16], d.Backend)
	copy(buf[16:16+uriFieldLen], d.URI[:])
	off := 16 + uriFieldLen
	binary.BigEndian.PutUint32(buf[off:off+4], d.Bitrate)
	binary.BigEndian.PutUint32(buf[off+4:off+8], d.BitrateControl)
	binary.BigEndian.PutUint32(buf[off+8:off+12], d.Quantizer)
	binary.BigEndian.PutUint32(buf[off+12:off+16], d.State)
	return buf
}

func DecodeTarget(buf []byte) TargetDescriptor {
	var d TargetDescriptor
	if len(buf) < TargetDescriptorSize {
		return d
	}
	d.TargetID = binary.BigEndian.Uint32(buf[0:4])
	d.Kind = binary.BigEndian.Uint32(buf[4:8])
	d.Codec = binary.BigEndian.Uint32(buf[8:12])
	d.Backend = binary.BigEndian.Uint32(buf[12:16])
	copy(d.URI[:], buf[16:16+uriFieldLen])
	off := 16 + uriFieldLen
	d.Bitrate = binary.BigEndian.Uint32(buf[off : off+4])
	d.BitrateControl = binary.BigEndian.Uint32(buf[off+4 : off+8])
	d.Quantizer = binary.BigEndian.Uint32(buf[off+8 : off+12])
	d.State = binary.BigEndian.Uint32(buf[off+12 : off+16])
	return d
}

// PutString copies s into a fixed-size field, truncating if necessary.
func PutString(field []byte, s string) {
	n := copy(field, s)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}

// GetString reads a NUL-terminated string out of a fixed-size field.
func GetString(field []byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
