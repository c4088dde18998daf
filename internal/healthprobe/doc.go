// Package healthprobe checks that the PixLand services answer over HTTP.
// Each service gets one GET, in order, and is classified as OK, WARN, DOWN or ERR.
package healthprobe
