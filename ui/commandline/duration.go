// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

var durationRegexp = regexp.MustCompile(`^(\d+\.?\d*)([µa-z]+)$`)

// FormatDuration pretty prints duration without a long list of decimal points.
// Compound durations (like "1m30.5s") are rounded to the second.
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 {
		if d > time.Minute {
			return d.Round(time.Second).String()
		}
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}

// HumanizeCount formats a count with thousands separators, e.g. 60000 -> "60,000".
func HumanizeCount[I interface {
	~int | ~int64 | ~int32 | ~uint64 | ~uint32
}](n I) string {
	return humanize.Comma(int64(n))
}
