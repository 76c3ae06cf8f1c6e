/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package utils

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ParseHumanSize parses a human-readable size ("4G", "512M", "8Gi") into
// bytes. Decimal and binary suffixes are both accepted; the value must be
// positive.
func ParseHumanSize(val string) (int64, error) {
	qty, err := resource.ParseQuantity(val)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %v", val, err)
	}
	bytes := qty.Value()
	if bytes <= 0 {
		return 0, fmt.Errorf("invalid size %q: must be positive", val)
	}
	return bytes, nil
}
