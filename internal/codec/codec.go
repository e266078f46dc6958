// Package codec implements the deterministic, length-prefixed framing
// used to transport an api.Input through consensus.
//
// Wire format (all integers big-endian, matching the RSM_DONE key
// convention):
//
//	int64  id
//	uint32 len(uuid)
//	uint32 len(content)
//	[]byte uuid
//	[]byte content
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/parliament/rsm-core/api"
)

// CodecError wraps a framing failure. Deserialize failures on the
// apply path are fatal (see rsm.Driver.applyOne): a decided slot the driver
// cannot parse means irrecoverable divergence from the cluster's view.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

func (e *CodecError) Is(target error) bool {
	return target == api.ErrCodec
}

const headerLen = 8 + 4 + 4

// Serialize frames in into a length-prefixed byte slice.
func Serialize(in *api.Input) ([]byte, error) {
	if in == nil {
		return nil, &CodecError{Op: "serialize", Err: fmt.Errorf("nil input")}
	}

	buf := make([]byte, headerLen+len(in.UUID)+len(in.Content))
	binary.BigEndian.PutUint64(buf[0:8], uint64(in.ID))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(in.UUID)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(in.Content)))
	off := headerLen
	off += copy(buf[off:], in.UUID)
	copy(buf[off:], in.Content)
	return buf, nil
}

// Deserialize reverses Serialize. It fails with a *CodecError if the
// frame is short, or declared lengths exceed the remaining bytes.
func Deserialize(b []byte) (*api.Input, error) {
	if len(b) < headerLen {
		return nil, &CodecError{Op: "deserialize", Err: fmt.Errorf("short frame: got %d bytes, need at least %d", len(b), headerLen)}
	}

	id := int64(binary.BigEndian.Uint64(b[0:8]))
	uuidLen := binary.BigEndian.Uint32(b[8:12])
	contentLen := binary.BigEndian.Uint32(b[12:16])

	rest := b[headerLen:]
	need := uint64(uuidLen) + uint64(contentLen)
	if uint64(len(rest)) < need {
		return nil, &CodecError{Op: "deserialize", Err: fmt.Errorf("declared lengths (%d) exceed remaining bytes (%d)", need, len(rest))}
	}

	uuid := make([]byte, uuidLen)
	copy(uuid, rest[:uuidLen])
	content := make([]byte, contentLen)
	copy(content, rest[uuidLen:uuidLen+contentLen])

	return &api.Input{
		ID:      id,
		UUID:    uuid,
		Content: content,
	}, nil
}
