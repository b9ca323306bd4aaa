package internal

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/ValentinKolb/scoll/lib/db"
)

func fullBatch() db.Batch {
	return db.Batch{
		Reads:        []db.ReadCheck{{ID: 1, Version: 10}, {ID: 2, Version: 0}},
		BindingReads: []db.BindingCheck{{Name: "scoll.map.users", ID: 7}, {Name: "", ID: 0}},
		Writes: []db.Write{
			{ID: 3, Data: []byte("value")},
			{ID: 4, Delete: true},
			{ID: 5, Data: []byte{0, 1, 2, 254, 255}},
			{ID: 6, Data: []byte{}},
		},
		Bindings: []db.BindingWrite{{Name: "你好世界", ID: 9}, {Name: "gone", ID: 0}},
	}
}

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Allocate",
			command:  Command{Type: CommandTAllocate, Count: 64},
			expected: 1 + 8,
		},
		{
			name:     "Empty commit",
			command:  Command{Type: CommandTCommit},
			expected: 1 + 16,
		},
		{
			name: "Commit with one element per section",
			command: Command{Type: CommandTCommit, Batch: db.Batch{
				Reads:        []db.ReadCheck{{ID: 1, Version: 2}},
				BindingReads: []db.BindingCheck{{Name: "abc", ID: 1}},
				Writes:       []db.Write{{ID: 1, Data: []byte("xy")}},
				Bindings:     []db.BindingWrite{{Name: "d", ID: 1}},
			}},
			expected: 1 + 16 + 16 + (4 + 3 + 8) + (8 + 1 + 4 + 2) + (4 + 1 + 8),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
			if n := len(tt.command.Serialize()); n != tt.expected {
				t.Errorf("len(Serialize()) = %v, want %v", n, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{"Allocate", Command{Type: CommandTAllocate, Count: 1<<64 - 1}},
		{"Empty commit", Command{Type: CommandTCommit}},
		{"Full commit", Command{Type: CommandTCommit, Batch: fullBatch()}},
		{"Writes only", Command{Type: CommandTCommit, Batch: db.Batch{Writes: []db.Write{{ID: 42, Data: []byte("x")}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if got.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", got.Type, tt.command.Type)
			}
			if got.Count != tt.command.Count {
				t.Errorf("Count mismatch: got %v, want %v", got.Count, tt.command.Count)
			}
			assertBatchEqual(t, got.Batch, tt.command.Batch)

			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d", tt.command.SizeBytes(), len(data))
			}
		})
	}
}

func assertBatchEqual(t *testing.T, got, want db.Batch) {
	t.Helper()

	if len(got.Reads) != len(want.Reads) || len(got.BindingReads) != len(want.BindingReads) ||
		len(got.Writes) != len(want.Writes) || len(got.Bindings) != len(want.Bindings) {
		t.Fatalf("section sizes differ: got %+v, want %+v", got, want)
	}
	for i := range want.Reads {
		if got.Reads[i] != want.Reads[i] {
			t.Errorf("read %d: got %+v, want %+v", i, got.Reads[i], want.Reads[i])
		}
	}
	for i := range want.BindingReads {
		if got.BindingReads[i] != want.BindingReads[i] {
			t.Errorf("binding read %d: got %+v, want %+v", i, got.BindingReads[i], want.BindingReads[i])
		}
	}
	for i := range want.Writes {
		g, w := got.Writes[i], want.Writes[i]
		if g.ID != w.ID || g.Delete != w.Delete || !bytes.Equal(g.Data, w.Data) {
			t.Errorf("write %d: got %+v, want %+v", i, g, w)
		}
	}
	for i := range want.Bindings {
		if got.Bindings[i] != want.Bindings[i] {
			t.Errorf("binding %d: got %+v, want %+v", i, got.Bindings[i], want.Bindings[i])
		}
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	valid := (&Command{Type: CommandTCommit, Batch: fullBatch()}).Serialize()

	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Unknown type",
			data:        []byte{99},
			expectedErr: "unknown command type 99",
		},
		{
			name:        "Allocate without count",
			data:        []byte{byte(CommandTAllocate), 1, 2},
			expectedErr: "data too short for count",
		},
		{
			name:        "Truncated commit",
			data:        valid[:len(valid)-3],
			expectedErr: "data too short",
		},
		{
			name:        "Trailing bytes",
			data:        append(append([]byte{}, valid...), 0xff),
			expectedErr: "trailing bytes",
		},
		{
			name: "Oversized section count",
			data: func() []byte {
				data := []byte{byte(CommandTCommit)}
				return binary.BigEndian.AppendUint32(data, 1<<30)
			}(),
			expectedErr: "invalid reads count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("Expected error containing %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of a serialized commit
func TestBinaryFormat(t *testing.T) {
	cmd := Command{Type: CommandTCommit, Batch: db.Batch{
		Reads:  []db.ReadCheck{{ID: 0x0102, Version: 7}},
		Writes: []db.Write{{ID: 5, Delete: true}},
	}}

	var expected []byte
	expected = append(expected, byte(CommandTCommit))
	expected = binary.BigEndian.AppendUint32(expected, 1) // reads
	expected = binary.BigEndian.AppendUint64(expected, 0x0102)
	expected = binary.BigEndian.AppendUint64(expected, 7)
	expected = binary.BigEndian.AppendUint32(expected, 0) // binding reads
	expected = binary.BigEndian.AppendUint32(expected, 1) // writes
	expected = binary.BigEndian.AppendUint64(expected, 5)
	expected = append(expected, writeFlagDelete)
	expected = binary.BigEndian.AppendUint32(expected, 0)
	expected = binary.BigEndian.AppendUint32(expected, 0) // bindings

	if serialized := cmd.Serialize(); !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestCommandFeatures tests the mapping of commands to database features
func TestCommandFeatures(t *testing.T) {
	if f, err := CommandTCommit.ToDBFeature(); err != nil || f != db.FeatureApply {
		t.Errorf("Commit should map to FeatureApply, got %v (%v)", f, err)
	}
	if f, err := CommandTAllocate.ToDBFeature(); err != nil || f != db.FeatureAllocate {
		t.Errorf("Allocate should map to FeatureAllocate, got %v (%v)", f, err)
	}
	if _, err := CommandType(42).ToDBFeature(); err == nil {
		t.Errorf("unknown command types must not map to a feature")
	}
}
