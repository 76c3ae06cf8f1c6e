/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scanid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const suffixBytes = 6

// New allocates a scan id: a fixed-width decimal microsecond timestamp
// followed by a random hex suffix. Ids minted later always compare greater
// as plain strings, which the store relies on for chronological listings.
func New() string {
	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is gone;
		// nothing sensible to do but panic.
		panic(fmt.Sprintf("scanid: %v", err))
	}
	return fmt.Sprintf("%016d%s", time.Now().UnixMicro(), hex.EncodeToString(buf))
}

// Timestamp recovers the allocation time embedded in a scan id.
func Timestamp(scanId string) (time.Time, bool) {
	if len(scanId) < 16 {
		return time.Time{}, false
	}
	micros, err := strconv.ParseInt(scanId[:16], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMicro(micros).UTC(), true
}
