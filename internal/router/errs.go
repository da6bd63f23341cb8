// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import "errors"

// ErrLoopback is returned by Submit when dst names the router's own
// pid. The library rejects such sends immediately; it is fatal to the
// caller, not a listener-facing RouterError.
var ErrLoopback = errors.New("router: refusing to address own pid")

// ErrUrgentReentry is returned by DeliverUrgent when it is called while
// an urgent-delivery pass is already in progress. A bug in caller code,
// not a runtime condition this library can recover from.
var ErrUrgentReentry = errors.New("router: urgent delivery re-entered")
