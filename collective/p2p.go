package collective

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// AnySource lets Receive accept an array from any rank.
const AnySource = -1

// ErrBufferMismatch is returned by Receive when the output
// buffer does not match the incoming array.
var ErrBufferMismatch = errors.New("receive buffer does not match incoming array")

// A DType names the element type of an Array.
type DType string

const (
	Float64    DType = "float64"
	Complex128 DType = "complex128"
	Int64      DType = "int64"
	Uint8      DType = "uint8"
	Bool       DType = "bool"
)

// ItemSize gets the number of bytes per element on the
// wire.
func (d DType) ItemSize() int {
	switch d {
	case Float64, Int64:
		return 8
	case Complex128:
		return 16
	case Uint8, Bool:
		return 1
	}
	panic("unknown dtype: " + string(d))
}

// An Array is an n-dimensional array that can be moved
// between ranks with Send and Receive.
//
// Data must be a []float64, []complex128, []int64, []uint8
// or []bool with as many elements as Shape describes.
type Array struct {
	Shape []int
	Data  interface{}
}

// DType gets the element type of the array.
func (a *Array) DType() (DType, error) {
	switch a.Data.(type) {
	case []float64:
		return Float64, nil
	case []complex128:
		return Complex128, nil
	case []int64:
		return Int64, nil
	case []uint8:
		return Uint8, nil
	case []bool:
		return Bool, nil
	}
	return "", fmt.Errorf("unsupported array data type %T", a.Data)
}

// arrayHeader precedes every array payload so the receiver
// can allocate a buffer of the right shape and type.
type arrayHeader struct {
	Shape []int `msgpack:"shape"`
	DType DType `msgpack:"dtype"`
}

// Send transfers an array to the destination rank.
//
// A small header with the shape and element type is sent
// first, followed by the payload. Both are matched on the
// receiving side by source and tag. Messages from the same
// source with the same tag are received in the order they
// were sent.
//
// The array is copied before Send returns.
func (c *Comm) Send(arr *Array, dest, tag int) error {
	if dest < 0 || dest >= c.Size() {
		return fmt.Errorf("send: destination rank %d out of range", dest)
	}
	dtype, err := arr.DType()
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if n := numElements(arr.Shape); n != lenData(arr.Data) {
		return fmt.Errorf("send: shape %v needs %d elements but got %d", arr.Shape, n,
			lenData(arr.Data))
	}
	header, err := msgpack.Marshal(&arrayHeader{Shape: arr.Shape, DType: dtype})
	if err != nil {
		return fmt.Errorf("send: encode header: %w", err)
	}

	key := pairKey{peer: dest, tag: tag}
	seq := c.sendSeq[key]
	c.sendSeq[key] = seq + 1

	payload := encodePayload(arr.Data)
	dst := c.ports[dest]
	c.network.Send(c.handle,
		c.message(dst, &envelope{kind: kindHeader, seq: seq, tag: tag, source: c.rank,
			payload: header}, float64(len(header))),
		c.message(dst, &envelope{kind: kindPayload, seq: seq, tag: tag, source: c.rank,
			payload: payload}, float64(lenData(payload)*dtype.ItemSize())),
	)
	return nil
}

// Receive waits for an array sent with Send.
//
// If source is AnySource, the first array available from
// any rank with the given tag is received. If out is
// non-nil, the data is stored in out, which must have the
// incoming shape and type. Otherwise a new Array is
// allocated.
func (c *Comm) Receive(source, tag int, out *Array) (*Array, error) {
	headerEnv := c.await(func(e *envelope) bool {
		if e.kind != kindHeader || e.tag != tag {
			return false
		}
		if source != AnySource && e.source != source {
			return false
		}
		return e.seq == c.recvSeq[pairKey{peer: e.source, tag: tag}]
	})
	key := pairKey{peer: headerEnv.source, tag: tag}
	seq := c.recvSeq[key]
	c.recvSeq[key] = seq + 1

	var header arrayHeader
	if err := msgpack.Unmarshal(headerEnv.payload.([]byte), &header); err != nil {
		return nil, fmt.Errorf("receive: decode header: %w", err)
	}

	payloadEnv := c.await(func(e *envelope) bool {
		return e.kind == kindPayload && e.tag == tag && e.source == key.peer && e.seq == seq
	})
	data, err := decodePayload(payloadEnv.payload, header.DType)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	if out == nil {
		return &Array{Shape: header.Shape, Data: data}, nil
	}
	outType, err := out.DType()
	if err != nil || outType != header.DType || !sameShape(out.Shape, header.Shape) ||
		lenData(out.Data) != lenData(data) {
		return nil, fmt.Errorf("%w: got %s%v", ErrBufferMismatch, header.DType, header.Shape)
	}
	copyData(out.Data, data)
	return out, nil
}

// encodePayload copies array data for the wire. Booleans
// travel as one uint8 per element.
func encodePayload(data interface{}) interface{} {
	switch data := data.(type) {
	case []float64:
		return append([]float64{}, data...)
	case []complex128:
		return append([]complex128{}, data...)
	case []int64:
		return append([]int64{}, data...)
	case []uint8:
		return append([]uint8{}, data...)
	case []bool:
		res := make([]uint8, len(data))
		for i, x := range data {
			if x {
				res[i] = 1
			}
		}
		return res
	}
	panic(fmt.Sprintf("unsupported array data type %T", data))
}

func decodePayload(payload interface{}, dtype DType) (interface{}, error) {
	if dtype == Bool {
		raw, ok := payload.([]uint8)
		if !ok {
			return nil, fmt.Errorf("bool payload arrived as %T", payload)
		}
		res := make([]bool, len(raw))
		for i, x := range raw {
			res[i] = x != 0
		}
		return res, nil
	}
	actual, err := (&Array{Data: payload}).DType()
	if err != nil {
		return nil, err
	}
	if actual != dtype {
		return nil, fmt.Errorf("header says %s but payload is %s", dtype, actual)
	}
	return payload, nil
}

func lenData(data interface{}) int {
	switch data := data.(type) {
	case []float64:
		return len(data)
	case []complex128:
		return len(data)
	case []int64:
		return len(data)
	case []uint8:
		return len(data)
	case []bool:
		return len(data)
	}
	return -1
}

func copyData(dst, src interface{}) {
	switch dst := dst.(type) {
	case []float64:
		copy(dst, src.([]float64))
	case []complex128:
		copy(dst, src.([]complex128))
	case []int64:
		copy(dst, src.([]int64))
	case []uint8:
		copy(dst, src.([]uint8))
	case []bool:
		copy(dst, src.([]bool))
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if b[i] != x {
			return false
		}
	}
	return true
}
