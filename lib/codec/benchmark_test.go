package codec

import (
	"testing"
)

// benchmarkValues returns a set of values for targeted benchmarking
func benchmarkValues() map[string]any {
	return map[string]any{
		"SmallString": "k",
		"LargeString": "this-is-a-very-large-key-that-could-be-used-for-storing-data-or-as-a-document-id-in-some-cases",
		"Int":         int64(1234567890),
		"SmallBytes":  []byte("v"),
		"LargeBytes":  make([]byte, 1024*16),
		"Struct": testRecord{
			Name:  "complete-test-record",
			Tags:  []string{"one", "two", "three"},
			Score: 10000,
			Attrs: map[string]string{"a": "1", "b": "2"},
		},
	}
}

// BenchmarkEncode benchmarks encoding for all implementations with various values
func BenchmarkEncode(b *testing.B) {
	values := benchmarkValues()

	for name, factory := range testCodecs {
		for valName, v := range values {
			b.Run(name+"_"+valName, func(b *testing.B) {
				c := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := c.Encode(v); err != nil {
						b.Fatalf("Failed to encode: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the encoded size for each value
func BenchmarkSize(b *testing.B) {
	values := benchmarkValues()

	for name, factory := range testCodecs {
		c := factory()

		for valName, v := range values {
			b.Run(name+"_"+valName, func(b *testing.B) {
				data, err := c.Encode(v)
				if err != nil {
					b.Fatalf("Failed to encode: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
