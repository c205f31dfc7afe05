package negotiation

import (
	"encoding/json"
	"fmt"

	"github.com/DistributedClocks/GoVector/govec"
)

// Codec turns frames into datagrams and back.
type Codec interface {
	Encode(f Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

// JSONCodec sends frames as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func (JSONCodec) Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return f, nil
}

// VectorCodec wraps every frame in a GoVector payload so that the
// negotiation between two nodes can be ordered causally afterwards. Frames
// stay JSON inside the envelope.
type VectorCodec struct {
	pid string
	log *govec.GoLog
}

// NewVectorCodec starts a vector clock for pid. Nothing is written to disk.
func NewVectorCodec(pid string) *VectorCodec {
	conf := govec.GetDefaultConfig()
	conf.LogToFile = false
	conf.PrintOnScreen = false
	conf.EncodingStrategy = json.Marshal
	conf.DecodingStrategy = json.Unmarshal

	return &VectorCodec{pid: pid, log: govec.InitGoVector(pid, pid, conf)}
}

func (c *VectorCodec) Encode(f Frame) ([]byte, error) {
	data := c.log.PrepareSend(fmt.Sprintf("send %s %d", f.Type, f.ID), f, govec.GetDefaultLogOptions())
	if data == nil {
		return nil, fmt.Errorf("failed to stamp %s %d", f.Type, f.ID)
	}
	return data, nil
}

func (c *VectorCodec) Decode(data []byte) (f Frame, err error) {
	// GoVector panics on payloads it can't decode
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to decode stamped frame: %v", r)
		}
	}()
	c.log.UnpackReceive("recv", data, &f, govec.GetDefaultLogOptions())
	if f.Type == "" {
		return Frame{}, fmt.Errorf("failed to decode stamped frame")
	}
	return f, nil
}

// Ticks is the local component of the vector clock.
func (c *VectorCodec) Ticks() uint64 {
	ticks, _ := c.log.GetCurrentVC().FindTicks(c.pid)
	return ticks
}

// Clock returns a copy of the vector clock.
func (c *VectorCodec) Clock() map[string]uint64 {
	vc := c.log.GetCurrentVC()
	out := make(map[string]uint64, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}
