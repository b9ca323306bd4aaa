package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/scoll/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTCommit   CommandType = iota // Validate and apply a commit batch.
	CommandTAllocate                    // Reserve a block of object ids.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTCommit:
		return "Commit"
	case CommandTAllocate:
		return "Allocate"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTCommit:
		return db.FeatureApply, nil
	case CommandTAllocate:
		return db.FeatureAllocate, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type  CommandType
	Count uint64   // ids to allocate (CommandTAllocate)
	Batch db.Batch // batch to apply (CommandTCommit)
}

const writeFlagDelete = 1

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	if command.Type == CommandTAllocate {
		return 1 + 8 // Type + Count
	}
	b := &command.Batch
	size := 1 + 4*4 // Type + four section lengths
	size += len(b.Reads) * (8 + 8)
	for _, c := range b.BindingReads {
		size += 4 + len(c.Name) + 8
	}
	for _, w := range b.Writes {
		size += 8 + 1 + 4 + len(w.Data)
	}
	for _, w := range b.Bindings {
		size += 4 + len(w.Name) + 8
	}
	return size
}

// Serialize serializes a command into a byte array with the format (all integers big endian):
//
//	Allocate: 1 byte type, 8 bytes count
//	Commit:   1 byte type, then four sections each prefixed with a 4 byte element count:
//	          reads          (8 bytes id, 8 bytes version)
//	          binding reads  (4 bytes name length, name, 8 bytes id)
//	          writes         (8 bytes id, 1 byte flags, 4 bytes data length, data)
//	          bindings       (4 bytes name length, name, 8 bytes id)
func (command *Command) Serialize() []byte {
	result := make([]byte, 0, command.SizeBytes())
	result = append(result, byte(command.Type))

	if command.Type == CommandTAllocate {
		return binary.BigEndian.AppendUint64(result, command.Count)
	}

	b := &command.Batch
	result = binary.BigEndian.AppendUint32(result, uint32(len(b.Reads)))
	for _, c := range b.Reads {
		result = binary.BigEndian.AppendUint64(result, c.ID)
		result = binary.BigEndian.AppendUint64(result, c.Version)
	}

	result = binary.BigEndian.AppendUint32(result, uint32(len(b.BindingReads)))
	for _, c := range b.BindingReads {
		result = appendString(result, c.Name)
		result = binary.BigEndian.AppendUint64(result, c.ID)
	}

	result = binary.BigEndian.AppendUint32(result, uint32(len(b.Writes)))
	for _, w := range b.Writes {
		result = binary.BigEndian.AppendUint64(result, w.ID)
		var flags byte
		if w.Delete {
			flags |= writeFlagDelete
		}
		result = append(result, flags)
		result = binary.BigEndian.AppendUint32(result, uint32(len(w.Data)))
		result = append(result, w.Data...)
	}

	result = binary.BigEndian.AppendUint32(result, uint32(len(b.Bindings)))
	for _, w := range b.Bindings {
		result = appendString(result, w.Name)
		result = binary.BigEndian.AppendUint64(result, w.ID)
	}

	return result
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// decoder reads big endian values and remembers the first error
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data) < n {
		d.err = fmt.Errorf("data too short for %s", what)
		return nil
	}
	out := d.data[:n]
	d.data = d.data[n:]
	return out
}

func (d *decoder) u64(what string) uint64 {
	if b := d.take(8, what); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) u32(what string) uint32 {
	if b := d.take(4, what); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u8(what string) byte {
	if b := d.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) bytes(what string) []byte {
	n := d.u32(what + " length")
	b := d.take(int(n), what)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// count reads a section length and rejects lengths that cannot fit the remaining data
func (d *decoder) count(what string, minElemSize int) int {
	n := int(d.u32(what + " count"))
	if d.err == nil && n*minElemSize > len(d.data) {
		d.err = fmt.Errorf("invalid %s count %d", what, n)
		return 0
	}
	return n
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("data too short for command")
	}
	command.Type = CommandType(data[0])
	d := &decoder{data: data[1:]}

	switch command.Type {
	case CommandTAllocate:
		command.Count = d.u64("count")
		command.Batch = db.Batch{}
		return d.err
	case CommandTCommit:
	default:
		return fmt.Errorf("unknown command type %d", command.Type)
	}

	b := db.Batch{}

	if n := d.count("reads", 16); n > 0 {
		b.Reads = make([]db.ReadCheck, n)
		for i := range b.Reads {
			b.Reads[i] = db.ReadCheck{ID: d.u64("read id"), Version: d.u64("read version")}
		}
	}

	if n := d.count("binding reads", 12); n > 0 {
		b.BindingReads = make([]db.BindingCheck, n)
		for i := range b.BindingReads {
			b.BindingReads[i] = db.BindingCheck{Name: string(d.bytes("binding name")), ID: d.u64("binding id")}
		}
	}

	if n := d.count("writes", 13); n > 0 {
		b.Writes = make([]db.Write, n)
		for i := range b.Writes {
			id := d.u64("write id")
			flags := d.u8("write flags")
			data := d.bytes("write data")
			b.Writes[i] = db.Write{ID: id, Data: data, Delete: flags&writeFlagDelete != 0}
		}
	}

	if n := d.count("bindings", 12); n > 0 {
		b.Bindings = make([]db.BindingWrite, n)
		for i := range b.Bindings {
			b.Bindings[i] = db.BindingWrite{Name: string(d.bytes("binding name")), ID: d.u64("binding id")}
		}
	}

	if d.err != nil {
		return d.err
	}
	if len(d.data) != 0 {
		return fmt.Errorf("%d trailing bytes after command", len(d.data))
	}
	command.Batch = b
	return nil
}
