package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// labelColumn holds the ground truth in the claims CSV: "Yes" or "No".
const labelColumn = "PotentialFraud"

// LabeledClaim is one CSV row: the claim fields plus the known outcome.
type LabeledClaim struct {
	Record  map[string]any
	IsFraud bool
}

// ReadOptions filters rows as they are read.
type ReadOptions struct {
	Limit      int     // 0 = all rows
	FraudOnly  bool    // keep only rows labeled fraud
	SampleRate float64 // fraction of non-fraud rows kept
}

// readClaims parses a claims CSV. Every column except the label becomes a
// record field keyed by its header; empty cells are left out so the scorer
// treats them as missing.
func readClaims(r io.Reader, opts ReadOptions) ([]LabeledClaim, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	labelIdx := -1
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
		if strings.EqualFold(header[i], labelColumn) {
			labelIdx = i
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("missing %s column", labelColumn)
	}

	sampleRate := opts.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}

	var claims []LabeledClaim
	sampleCounter := 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		if labelIdx >= len(row) {
			continue
		}

		isFraud := strings.EqualFold(strings.TrimSpace(row[labelIdx]), "Yes")
		if opts.FraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		record := make(map[string]any, len(header))
		for i, col := range header {
			if i == labelIdx || i >= len(row) || col == "" {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				record[col] = v
			}
		}

		claims = append(claims, LabeledClaim{Record: record, IsFraud: isFraud})
		if opts.Limit > 0 && len(claims) >= opts.Limit {
			break
		}
	}

	return claims, nil
}

// Confusion tracks replay outcomes against the known labels. Safe for
// concurrent use.
type Confusion struct {
	TruePositives  atomic.Int64
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64

	Errors           atomic.Int64
	ProcessingTimeMs atomic.Int64
}

// Record adds one scored claim.
func (c *Confusion) Record(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePositives.Add(1)
	case predicted && !actual:
		c.FalsePositives.Add(1)
	case !predicted && !actual:
		c.TrueNegatives.Add(1)
	default:
		c.FalseNegatives.Add(1)
	}
}

// Total is the number of scored claims.
func (c *Confusion) Total() int64 {
	return c.TruePositives.Load() + c.FalsePositives.Load() +
		c.TrueNegatives.Load() + c.FalseNegatives.Load()
}

func (c *Confusion) Precision() float64 {
	return ratio(c.TruePositives.Load(), c.TruePositives.Load()+c.FalsePositives.Load())
}

func (c *Confusion) Recall() float64 {
	return ratio(c.TruePositives.Load(), c.TruePositives.Load()+c.FalseNegatives.Load())
}

func (c *Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (c *Confusion) Accuracy() float64 {
	return ratio(c.TruePositives.Load()+c.TrueNegatives.Load(), c.Total())
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
