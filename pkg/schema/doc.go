// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema defines the wire and in-memory data types shared across the
// telemetry pipeline and alarm-evaluation core: typed samples, tag/endpoint
// descriptors, alarm rules, and alarm records.
package schema
