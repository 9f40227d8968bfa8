// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
)

type staticProvider struct{}

func (staticProvider) Collect(context.Context, datatypes.ChangeRequest) (datatypes.ChangeContext, error) {
	return testChanges, nil
}

func validRequestForOffline(maxIterations int) datatypes.ReviewRequest {
	return datatypes.ReviewRequest{
		Requirements:  "the server must validate all input",
		RepoDir:       "/repo",
		MaxIterations: datatypes.IntPtr(maxIterations),
	}
}
