package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"
)

// TargetColumn is the header of the peak shear strength column.
const TargetColumn = "V"

// TrainingRecord is one historical specimen. Missing cells are NaN.
type TrainingRecord struct {
	Features [NumFeatures]float64
	V        float64
}

// HasMissing reports whether any feature or the target is missing.
func (r TrainingRecord) HasMissing() bool {
	if math.IsNaN(r.V) {
		return true
	}
	for _, f := range r.Features {
		if math.IsNaN(f) {
			return true
		}
	}
	return false
}

// TrainingTable is the ordered historical dataset as loaded from its source.
type TrainingTable struct {
	Source  string
	Columns []string
	Records []TrainingRecord
}

func (t *TrainingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// Fingerprint is a SHA-256 over the column headers and the bit patterns of
// every cell, in order. Equal tables always share a fingerprint.
func (t *TrainingTable) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	if t != nil {
		for _, c := range t.Columns {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(c)))
			h.Write(buf[:])
			h.Write([]byte(c))
		}
		binary.LittleEndian.PutUint64(buf[:], uint64(len(t.Records)))
		h.Write(buf[:])
		for i := range t.Records {
			for _, f := range t.Records[i].Features {
				binary.LittleEndian.PutUint64(buf[:], canonicalBits(f))
				h.Write(buf[:])
			}
			binary.LittleEndian.PutUint64(buf[:], canonicalBits(t.Records[i].V))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalBits collapses every NaN payload into one pattern.
func canonicalBits(v float64) uint64 {
	if math.IsNaN(v) {
		return 0x7ff8000000000001
	}
	return math.Float64bits(v)
}

// PredictionLogEntry is the diagnostic record written for every prediction.
type PredictionLogEntry struct {
	ID          int64       `json:"id"`
	Model       ModelSource `json:"model"`
	Params      []float64   `json:"params"`
	Value       *float64    `json:"value,omitempty"`
	ErrorKind   ErrorKind   `json:"error_kind,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
