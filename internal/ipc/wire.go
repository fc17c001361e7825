// Package ipc implements the producerd/consumerd daemon protocol (spec.md
// §4.7, §6): fixed-size request/response records exchanged over
// AF_UNIX/SOCK_STREAM sockets under the user's runtime directory.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Producerd message/response type codes (spec.md §6).
const (
	MsgCreatePipeline  uint32 = 1
	MsgDestroyPipeline uint32 = 2

	RspCreateSuccess  uint32 = 1
	RspDestroySuccess uint32 = 2
	RspFail           uint32 = 255
)

// Consumerd message/response type codes (spec.md §6).
const (
	MsgCreateSrtTarget          uint32 = 1
	MsgStartTarget              uint32 = 2
	MsgCreateRecordingTarget    uint32 = 3
	MsgCreateImageCaptureTarget uint32 = 4
	MsgDestroyTarget            uint32 = 5

	RspCreateTargetSuccess  uint32 = 1
	RspStartSuccess         uint32 = 2
	RspDestroyTargetSuccess uint32 = 3
)

const (
	uriFieldLen      = 128
	usernameFieldLen = 128
)

// ProviderMsg is producerd's fixed-size request record (spec.md §6).
type ProviderMsg struct {
	MsgType       uint32
	PipewireNodeID int32
}

const providerMsgSize = 4 + 4

func (m ProviderMsg) encode() []byte {
	buf := make([]byte, providerMsgSize)
	binary.BigEndian.PutUint32(buf[0:4], m.MsgType)
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.PipewireNodeID))
	return buf
}

func decodeProviderMsg(buf []byte) ProviderMsg {
	return ProviderMsg{
		MsgType:        binary.BigEndian.Uint32(buf[0:4]),
		PipewireNodeID: int32(binary.BigEndian.Uint32(buf[4:8])),
	}
}

// ProviderRsp is producerd's fixed-size response record.
type ProviderRsp struct {
	RspType uint32
}

const providerRspSize = 4

func (r ProviderRsp) encode() []byte {
	buf := make([]byte, providerRspSize)
	binary.BigEndian.PutUint32(buf, r.RspType)
	return buf
}

func decodeProviderRsp(buf []byte) ProviderRsp {
	return ProviderRsp{RspType: binary.BigEndian.Uint32(buf)}
}

// WriteProviderMsg/ReadProviderMsg and their Rsp counterparts implement the
// fixed-size record exchange over a net.Conn.
func WriteProviderMsg(w io.Writer, m ProviderMsg) error {
	_, err := w.Write(m.encode())
	return err
}

func ReadProviderMsg(r io.Reader) (ProviderMsg, error) {
	buf := make([]byte, providerMsgSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ProviderMsg{}, err
	}
	return decodeProviderMsg(buf), nil
}

func WriteProviderRsp(w io.Writer, r ProviderRsp) error {
	_, err := w.Write(r.encode())
	return err
}

func ReadProviderRsp(r io.Reader) (ProviderRsp, error) {
	buf := make([]byte, providerRspSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ProviderRsp{}, err
	}
	return decodeProviderRsp(buf), nil
}

// ConsumerMsg is consumerd's fixed-size request record (spec.md §6).
type ConsumerMsg struct {
	MsgType        uint32
	Codec          uint32
	InputNodeID    uint32
	OutputNodeID   uint32
	Bitrate        uint32
	HashID         uint32
	PipelineHandle uint64
	URI            string
	Username       string
}

const consumerMsgSize = 4*6 + 8 + uriFieldLen + usernameFieldLen

func (m ConsumerMsg) encode() []byte {
	buf := make([]byte, consumerMsgSize)
	binary.BigEndian.PutUint32(buf[0:4], m.MsgType)
	binary.BigEndian.PutUint32(buf[4:8], m.Codec)
	binary.BigEndian.PutUint32(buf[8:12], m.InputNodeID)
	binary.BigEndian.PutUint32(buf[12:16], m.OutputNodeID)
	binary.BigEndian.PutUint32(buf[16:20], m.Bitrate)
	binary.BigEndian.PutUint32(buf[20:24], m.HashID)
	binary.BigEndian.PutUint64(buf[24:32], m.PipelineHandle)
	putFixedString(buf[32:32+uriFieldLen], m.URI)
	putFixedString(buf[32+uriFieldLen:32+uriFieldLen+usernameFieldLen], m.Username)
	return buf
}

func decodeConsumerMsg(buf []byte) ConsumerMsg {
	m := ConsumerMsg{
		MsgType:        binary.BigEndian.Uint32(buf[0:4]),
		Codec:          binary.BigEndian.Uint32(buf[4:8]),
		InputNodeID:    binary.BigEndian.Uint32(buf[8:12]),
		OutputNodeID:   binary.BigEndian.Uint32(buf[12:16]),
		Bitrate:        binary.BigEndian.Uint32(buf[16:20]),
		HashID:         binary.BigEndian.Uint32(buf[20:24]),
		PipelineHandle: binary.BigEndian.Uint64(buf[24:32]),
	}
	m.URI = getFixedString(buf[32 : 32+uriFieldLen])
	m.Username = getFixedString(buf[32+uriFieldLen : 32+uriFieldLen+usernameFieldLen])
	return m
}

// ConsumerRsp is consumerd's fixed-size response record.
type ConsumerRsp struct {
	RspType uint32
}

const consumerRspSize = 4

func (r ConsumerRsp) encode() []byte {
	buf := make([]byte, consumerRspSize)
	binary.BigEndian.PutUint32(buf, r.RspType)
	return buf
}

func decodeConsumerRsp(buf []byte) ConsumerRsp {
	return ConsumerRsp{RspType: binary.BigEndian.Uint32(buf)}
}

func WriteConsumerMsg(w io.Writer, m ConsumerMsg) error {
	if len(m.URI) >= uriFieldLen {
		return fmt.Errorf("ipc: uri too long for fixed record (%d >= %d)", len(m.URI), uriFieldLen)
	}
	if len(m.Username) >= usernameFieldLen {
		return fmt.Errorf("ipc: username too long for fixed record (%d >= %d)", len(m.Username), usernameFieldLen)
	}
	_, err := w.Write(m.encode())
	return err
}

func ReadConsumerMsg(r io.Reader) (ConsumerMsg, error) {
	buf := make([]byte, consumerMsgSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ConsumerMsg{}, err
	}
	return decodeConsumerMsg(buf), nil
}

func WriteConsumerRsp(w io.Writer, r ConsumerRsp) error {
	_, err := w.Write(r.encode())
	return err
}

func ReadConsumerRsp(r io.Reader) (ConsumerRsp, error) {
	buf := make([]byte, consumerRspSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ConsumerRsp{}, err
	}
	return decodeConsumerRsp(buf), nil
}

func putFixedString(field []byte, s string) {
	n := copy(field, s)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}

func getFixedString(field []byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
