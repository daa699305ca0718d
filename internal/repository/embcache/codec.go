package embcache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Entry is the cached embedding of one item together with what produced it.
type Entry struct {
	ItemID       string
	Vector       []float32
	DocumentText string
	Model        string
	UpdatedAt    time.Time
}

// IsFresh reports whether the entry was computed from exactly this document
// text by this model. A positive dims also requires that vector length.
func (e Entry) IsFresh(documentText, model string, dims int) bool {
	if len(e.Vector) == 0 || (dims > 0 && len(e.Vector) != dims) {
		return false
	}
	return e.DocumentText == documentText && e.Model == model
}

// ModelID names a model together with a requested output size, so vectors
// of different lengths never share an identifier. Zero dims keeps the name.
func ModelID(model string, dims int) string {
	if dims <= 0 {
		return model
	}
	return model + "@" + strconv.Itoa(dims)
}

// entryRecord is the stored form. The vector is little-endian float32 bytes,
// which encoding/json renders as base64.
type entryRecord struct {
	ItemID       string    `json:"item_id"`
	Vector       []byte    `json:"vector"`
	Dimensions   int       `json:"dimensions"`
	DocumentText string    `json:"document_text"`
	Model        string    `json:"model"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func encodeEntry(e Entry) ([]byte, error) {
	data, err := json.Marshal(entryRecord{
		ItemID:       e.ItemID,
		Vector:       vectorToCacheBytes(e.Vector),
		Dimensions:   len(e.Vector),
		DocumentText: e.DocumentText,
		Model:        e.Model,
		UpdatedAt:    e.UpdatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", e.ItemID, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (Entry, error) {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	vec, err := bytesToVector(rec.Vector)
	if err != nil {
		return Entry{}, err
	}
	if len(vec) != rec.Dimensions {
		return Entry{}, fmt.Errorf("decode entry %s: %d dimensions stored, %d decoded",
			rec.ItemID, rec.Dimensions, len(vec))
	}
	return Entry{
		ItemID:       rec.ItemID,
		Vector:       vec,
		DocumentText: rec.DocumentText,
		Model:        rec.Model,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
