// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package circular provides the capacity-rounding helper the snapshot
// package uses when growing a ReadGroup's padded buffer.
package circular
