package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Parse reads 3-line NORAD TLE format from r and returns parsed element sets.
// Malformed entries are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Elements, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element data: %w", err)
	}

	var entries []Elements
	for i := 0; i+2 < len(lines); {
		name := lines[i]
		line1 := lines[i+1]
		line2 := lines[i+2]

		// Validate line prefixes.
		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// Try to find the next valid triplet.
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}

		// NORAD catalog number is in line1 cols 3-7 (0-indexed: 2..7).
		noradStr := strings.TrimSpace(line1[2:7])
		noradID, err := strconv.Atoi(noradStr)
		if err != nil {
			logger.Warn("skipping TLE entry with invalid catalog number", "norad_str", noradStr, "name", name)
			i += 3
			continue
		}

		// Epoch is in line1 cols 19-32 (0-indexed: 18..32).
		if len(line1) < 32 {
			logger.Warn("skipping TLE entry with short line1", "name", name)
			i += 3
			continue
		}
		epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
		if err != nil {
			logger.Warn("skipping TLE entry with invalid epoch", "name", name, "error", err)
			i += 3
			continue
		}

		entries = append(entries, Elements{
			NORADID: noradID,
			Name:    strings.TrimSpace(name),
			Epoch:   epoch,
			Line1:   line1,
			Line2:   line2,
		})
		i += 3
	}

	return entries, nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
