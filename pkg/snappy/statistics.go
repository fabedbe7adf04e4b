// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package snappy

import (
	"fmt"
	"time"
)

// Statistics tracks frame pipeline counters and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	BytesRead       uint64
	FramesExtracted uint64
	FramesDecoded   uint64
	PrefixRejects   uint64
	ShortFrames     uint64
	BufferResets    uint64
	ReadErrors      uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// CountRead records one transport read of n bytes
func (s *Statistics) CountRead(n int) {
	s.BytesRead += uint64(n)
	s.LastUpdateTime = time.Now()
}

// CountFrame records one extracted frame and its decode outcome
func (s *Statistics) CountFrame(decoded bool) {
	s.FramesExtracted++
	if decoded {
		s.FramesDecoded++
	}
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesExtracted) / elapsed
		errorCount := s.PrefixRejects + s.ShortFrames + s.BufferResets + s.ReadErrors
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var decodedPercent, rejectPercent, shortPercent float64
	if s.FramesExtracted > 0 {
		decodedPercent = float64(s.FramesDecoded) * 100.0 / float64(s.FramesExtracted)
		rejectPercent = float64(s.PrefixRejects) * 100.0 / float64(s.FramesExtracted)
		shortPercent = float64(s.ShortFrames) * 100.0 / float64(s.FramesExtracted)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Read:      %8d\n", s.BytesRead)
	result += fmt.Sprintf("Frames:          %8d\n", s.FramesExtracted)
	result += fmt.Sprintf("Decoded:         %8d (%.1f%%)\n", s.FramesDecoded, decodedPercent)

	if s.PrefixRejects > 0 {
		result += fmt.Sprintf("Prefix Rejects:  %8d (%.1f%%)\n", s.PrefixRejects, rejectPercent)
	}
	if s.ShortFrames > 0 {
		result += fmt.Sprintf("Short Frames:    %8d (%.1f%%)\n", s.ShortFrames, shortPercent)
	}
	if s.BufferResets > 0 {
		result += fmt.Sprintf("Buffer Resets:   %8d\n", s.BufferResets)
	}
	if s.ReadErrors > 0 {
		result += fmt.Sprintf("Read Errors:     %8d\n", s.ReadErrors)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.BytesRead = 0
	s.FramesExtracted = 0
	s.FramesDecoded = 0
	s.PrefixRejects = 0
	s.ShortFrames = 0
	s.BufferResets = 0
	s.ReadErrors = 0
	s.FrameRate = 0
	s.ErrorRate = 0
}
