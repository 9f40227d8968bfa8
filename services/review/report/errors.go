// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import "errors"

var (
	// ErrUnsupportedLocation is returned for output URLs no sink handles.
	ErrUnsupportedLocation = errors.New("unsupported report location")

	// ErrSinkNotConfigured is returned when a gs:// URL is requested but
	// no GCS sink was configured.
	ErrSinkNotConfigured = errors.New("report sink not configured")

	// ErrNilOutcome is returned when asked to render nothing.
	ErrNilOutcome = errors.New("nil outcome")
)
