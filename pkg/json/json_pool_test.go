package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	gojson "github.com/goccy/go-json"
)

// Test data structures
type testRecord struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Value     float64                `json:"value"`
	Tags      []string               `json:"tags"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp int64                  `json:"timestamp"`
}

func generateTestRecords(n int) []*testRecord {
	records := make([]*testRecord, n)
	for i := 0; i < n; i++ {
		records[i] = &testRecord{
			ID:    fmt.Sprintf("test-%d", i),
			Name:  "Test Record",
			Value: float64(i) * 1.5,
			Tags:  []string{"tag1", "tag2", "tag3"},
			Metadata: map[string]interface{}{
				"source":   "benchmark",
				"version":  "1.0",
				"index":    i,
				"category": "test",
			},
			Timestamp: 1234567890,
		}
	}
	return records
}

func generateRecordPayloads(n int) []map[string]interface{} {
	records := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		records[i] = map[string]interface{}{
			"id":        fmt.Sprintf("test-%d", i),
			"name":      "Test Record",
			"value":     float64(i) * 1.5,
			"tags":      []string{"tag1", "tag2", "tag3"},
			"timestamp": 1234567890,
		}
	}
	return records
}

// Benchmark standard library json.Marshal
func BenchmarkStdMarshal(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, record := range records {
			_, err := json.Marshal(record)
			if err != nil {
				b.Fatal(err)
			}
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark goccy/go-json Marshal
func BenchmarkGoccyMarshal(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, record := range records {
			_, err := gojson.Marshal(record)
			if err != nil {
				b.Fatal(err)
			}
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark optimized Marshal
func BenchmarkOptimizedMarshal(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, record := range records {
			_, err := Marshal(record)
			if err != nil {
				b.Fatal(err)
			}
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark standard library encoder
func BenchmarkStdEncoder(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)

		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				b.Fatal(err)
			}
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark pooled encoder
func BenchmarkPooledEncoder(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf := GetBuffer()
		enc := GetEncoder(buf)

		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				b.Fatal(err)
			}
		}

		PutEncoder(enc)
		PutBuffer(buf)
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark streaming encoder
func BenchmarkStreamingEncoder(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		enc := NewStreamingEncoder(&buf, false)

		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				b.Fatal(err)
			}
		}

		_ = enc.Close() // Ignore close error
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark MarshalRecordsArray
func BenchmarkMarshalRecordsArray(b *testing.B) {
	records := generateRecordPayloads(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := MarshalRecordsArray(records)
		if err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark MarshalRecordsLines
func BenchmarkMarshalRecordsLines(b *testing.B) {
	records := generateRecordPayloads(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := MarshalRecordsLines(records)
		if err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

// Benchmark with different record counts
func BenchmarkMarshalScaling(b *testing.B) {
	recordCounts := []int{10, 100, 1000, 10000}

	for _, count := range recordCounts {
		b.Run(fmt.Sprintf("StdLib/%d", count), func(b *testing.B) {
			records := generateRecordPayloads(count)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, err := json.Marshal(records)
				if err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("Optimized/%d", count), func(b *testing.B) {
			records := generateRecordPayloads(count)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, err := MarshalRecordsArray(records)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Test correctness
func TestMarshalCorrectness(t *testing.T) {
	// Create test data
	record := &testRecord{
		ID:    "test-123",
		Name:  "Test Record",
		Value: 42.5,
		Tags:  []string{"tag1", "tag2"},
		Metadata: map[string]interface{}{
			"key": "value",
		},
		Timestamp: 1234567890,
	}

	// Compare standard and optimized output
	stdData, err := json.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	optData, err := Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	// The output should be functionally equivalent
	var stdResult, optResult map[string]interface{}
	if err := json.Unmarshal(stdData, &stdResult); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(optData, &optResult); err != nil {
		t.Fatal(err)
	}

	// Compare the parsed results
	if stdResult["id"] != optResult["id"] {
		t.Errorf("ID mismatch: %v != %v", stdResult["id"], optResult["id"])
	}
	if stdResult["name"] != optResult["name"] {
		t.Errorf("Name mismatch: %v != %v", stdResult["name"], optResult["name"])
	}
}

// TestMarshalRecordsArrayAndLines verifies the record-payload helpers
// produce a valid JSON array and one line per record.
func TestMarshalRecordsArrayAndLines(t *testing.T) {
	records := generateRecordPayloads(5)

	arr, err := MarshalRecordsArray(records)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(arr, &decoded); err != nil {
		t.Fatalf("array output not valid JSON: %v", err)
	}
	if len(decoded) != 5 {
		t.Fatalf("expected 5 records, got %d", len(decoded))
	}

	lines, err := MarshalRecordsLines(records)
	if err != nil {
		t.Fatal(err)
	}
	if got := bytes.Count(lines, []byte("\n")); got != 5 {
		t.Fatalf("expected 5 newlines, got %d", got)
	}
}
